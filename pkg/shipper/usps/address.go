package usps

import (
	"context"

	"github.com/samber/lo"
	"github.com/tournevent/uspsbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultBatchConcurrency = 4

// AddressValidator standardizes addresses and reports field corrections.
type AddressValidator struct {
	api         APIClient
	logger      *otelzap.Logger
	concurrency int
}

// NewAddressValidator creates a validator. concurrency bounds ValidateBatch.
func NewAddressValidator(api APIClient, logger *otelzap.Logger, concurrency int) *AddressValidator {
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	return &AddressValidator{api: api, logger: logger, concurrency: concurrency}
}

// Validate submits addr to the carrier. It never returns an error; failures
// are reported through AddressValidation.Valid and Error.
func (v *AddressValidator) Validate(ctx context.Context, addr shipper.Address) shipper.AddressValidation {
	result := shipper.AddressValidation{Original: addr}

	resp, err := v.api.ValidateAddress(ctx, addressToRequest(addr))
	if err != nil {
		v.logger.Ctx(ctx).Warn("Address validation failed",
			zap.String("zip", addr.Zip),
			zap.Error(err),
		)
		result.Error = err.Error()
		return result
	}
	if resp == nil || resp.Address == nil {
		result.Error = "Invalid address validation response: missing address"
		return result
	}

	standardized := wireToAddress(addr, resp.Address)
	result.Valid = true
	result.Standardized = &standardized
	result.Corrections = Corrections(addr, standardized)
	return result
}

// ValidateBatch validates each address independently with bounded
// concurrency. Results are in input order.
func (v *AddressValidator) ValidateBatch(ctx context.Context, addrs []shipper.Address) []shipper.AddressValidation {
	results := make([]shipper.AddressValidation, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for i, addr := range addrs {
		g.Go(func() error {
			results[i] = v.Validate(gctx, addr)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Corrections compares street, city, state and zip. A field is reported only
// when both sides are non-empty and differ; the comparison is exact.
func Corrections(original, standardized shipper.Address) map[string]shipper.Correction {
	pairs := []lo.Tuple3[string, string, string]{
		lo.T3("street", original.Street, standardized.Street),
		lo.T3("city", original.City, standardized.City),
		lo.T3("state", original.State, standardized.State),
		lo.T3("zip", original.Zip, standardized.Zip),
	}

	corrections := make(map[string]shipper.Correction)
	for _, p := range pairs {
		field, before, after := p.Unpack()
		if before == "" || after == "" || before == after {
			continue
		}
		corrections[field] = shipper.Correction{Original: before, Corrected: after}
	}
	return corrections
}

func addressToRequest(addr shipper.Address) *AddressRequest {
	return &AddressRequest{
		StreetAddress:             addr.Street,
		StreetAddressAbbreviation: addr.Street2,
		City:                      addr.City,
		State:                     addr.State,
		ZIPCode:                   addr.Zip,
		ZIPPlus4:                  addr.Zip4,
	}
}

// wireToAddress builds the standardized address, keeping contact fields
// from the original since the carrier does not echo them.
func wireToAddress(original shipper.Address, w *WireAddress) shipper.Address {
	std := original
	std.Street = w.StreetAddress
	std.Street2 = w.SecondaryAddress
	std.City = w.City
	std.State = w.State
	std.Zip = w.ZIPCode
	std.Zip4 = w.ZIPPlus4
	if w.Firm != "" {
		std.Company = w.Firm
	}
	return std
}
