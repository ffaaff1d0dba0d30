// Package config loads and validates the gateway configuration.
//
// Configuration is read from a YAML file, then overridden by NUKIGW_*
// environment variables, then validated as a whole so that every problem
// is reported at once.
//
// Secrets (bridge and Web API tokens, MQTT and object storage credentials,
// the JWT secret) should come from the environment rather than the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, b := range cfg.ActiveBridges() {
//	    fmt.Println(b.Name, b.Host)
//	}
package config
