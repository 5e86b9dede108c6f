package domain

// Tenant holds the downstream CRM settings for one customer account.
type Tenant struct {
	Name      string `yaml:"name"`
	APIBase   string `yaml:"api_base"`
	APIKey    string `yaml:"api_key"`
	AccountID string `yaml:"account_id"`
}
