package config

import (
	"strings"

	"github.com/spf13/viper"
)

// gatewaySettings builds the adapter configuration of every gateway listed
// in GATEWAYS. Values come from the gateway_settings.<name> section of the
// config file and from <NAME>_<KEY> environment variables, the latter
// winning. Keys are converted to the adapters' camelCase names, so
// STRIPE_SECRET_KEY becomes secretKey.
func gatewaySettings(v *viper.Viper, environ []string) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, name := range splitList(v.GetString("GATEWAYS")) {
		settings := make(map[string]string)
		for key, value := range v.GetStringMapString("gateway_settings." + name) {
			settings[camelCase(key)] = value
		}

		prefix := strings.ToUpper(name) + "_"
		for _, kv := range environ {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || !strings.HasPrefix(key, prefix) || value == "" {
				continue
			}
			settings[camelCase(strings.TrimPrefix(key, prefix))] = value
		}
		out[name] = settings
	}

	// legacy name for the example gateway's shared secret
	if example, ok := out["example"]; ok && example["webhookSecret"] == "" {
		if secret := v.GetString("PAYMENT_EXAMPLE_SECRET"); secret != "" {
			example["webhookSecret"] = secret
		}
	}
	return out
}

// camelCase turns WEBHOOK_SECRET or webhook_secret into webhookSecret
func camelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
			continue
		}
		b.WriteString(part)
	}
	return b.String()
}
