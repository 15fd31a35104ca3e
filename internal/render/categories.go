package render

// Template categories. A category governs which top-level variable trees a
// template may assume are present; validation runs before any render.
const (
	CategoryUserAccount         = "user_account"
	CategoryUserNotification    = "user_notification"
	CategoryPartnerAccount      = "partner_account"
	CategoryPartnerSubscription = "partner_subscription"
	CategoryPartnerNotification = "partner_notification"
	CategoryPetAlert            = "pet_alert"
	CategorySystemAdmin         = "system_admin"
	CategoryMarketing           = "marketing"
	CategoryTransactional       = "transactional"
)

var categoryInputs = map[string][]string{
	CategoryUserAccount:         {"user"},
	CategoryUserNotification:    {"user"},
	CategoryPartnerAccount:      {"partner"},
	CategoryPartnerSubscription: {"subscription", "partner"},
	CategoryPartnerNotification: {"partner"},
	CategoryPetAlert:            {"pet", "owner"},
	CategorySystemAdmin:         {},
	CategoryMarketing:           {"user"},
	CategoryTransactional:       {"user"},
}

// RequiredInputs returns the variable trees a category requires. Unknown
// categories require nothing, matching the permissive default of the
// admin boundary that creates templates.
func RequiredInputs(category string) []string {
	inputs, ok := categoryInputs[category]
	if !ok {
		return nil
	}
	out := make([]string, len(inputs))
	copy(out, inputs)
	return out
}

// Categories lists every known category name.
func Categories() []string {
	names := make([]string, 0, len(categoryInputs))
	for name := range categoryInputs {
		names = append(names, name)
	}
	return names
}
