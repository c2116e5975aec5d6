package usps

// Service describes a USPS mail class offered for rating and labels.
type Service struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	DeliveryDays string  `json:"delivery_days"`
	MaxWeight    float64 `json:"max_weight"`
}

// Mail classes.
const (
	ServiceGroundAdvantage     = "USPS_GROUND_ADVANTAGE"
	ServicePriorityMail        = "PRIORITY_MAIL"
	ServicePriorityMailExpress = "PRIORITY_MAIL_EXPRESS"
	ServiceFirstClassMail      = "FIRST_CLASS_MAIL"
	ServiceParcelSelect        = "PARCEL_SELECT"
)

// DefaultServices returns the built-in service catalog.
func DefaultServices() map[string]Service {
	return map[string]Service{
		ServiceGroundAdvantage:     {Code: ServiceGroundAdvantage, Name: "USPS Ground Advantage", DeliveryDays: "2-5", MaxWeight: 70},
		ServicePriorityMail:        {Code: ServicePriorityMail, Name: "Priority Mail", DeliveryDays: "1-3", MaxWeight: 70},
		ServicePriorityMailExpress: {Code: ServicePriorityMailExpress, Name: "Priority Mail Express", DeliveryDays: "1-2", MaxWeight: 70},
		ServiceFirstClassMail:      {Code: ServiceFirstClassMail, Name: "First-Class Mail", DeliveryDays: "1-5", MaxWeight: 15.999},
		ServiceParcelSelect:        {Code: ServiceParcelSelect, Name: "Parcel Select Ground", DeliveryDays: "2-8", MaxWeight: 70},
	}
}

// DefaultShoppingServices is the mail class order used for rate shopping.
func DefaultShoppingServices() []string {
	return []string{ServiceGroundAdvantage, ServicePriorityMail, ServicePriorityMailExpress}
}
