package settings

// DefaultRules returns the per-gateway credential field rules. Field names
// match the keys the admin settings form submits.
func DefaultRules() map[string][]Rule {
	return map[string][]Rule{
		"epay": {
			{Field: "pid", Tag: "required,numeric"},
			{Field: "key", Tag: "required"},
			{Field: "api_url", Tag: "required,url"},
		},
		"paypal_checkout": {
			{Field: "client_id", Tag: "required"},
			{Field: "client_secret", Tag: "required"},
			{Field: "webhook_id", Tag: "omitempty,startswith=WH-"},
			{Field: "sandbox", Tag: "omitempty,oneof=true false"},
		},
	}
}
