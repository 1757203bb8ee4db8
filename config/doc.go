// Package config loads and distributes the runtime configuration of a
// semwire node.
//
// A configuration file (JSON or YAML) names the runtime, its NATS
// connection, optional remote service sharing, the metrics endpoint and the
// list of component descriptors to manage.
//
// # Core Components
//
// Config: the root structure. Components holds the descriptors handed to
// the runtime on boot.
//
// SafeConfig: RWMutex guarded holder that returns deep copies so callers
// cannot mutate shared state.
//
// Loader: merges layered files over Defaults() and then applies SEMWIRE_*
// environment overrides.
//
// Manager: mirrors component configuration into a NATS KV bucket and
// applies changes written under components.<name> to a Target.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/edge.yaml") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// # Dynamic Configuration
//
// Each component entry in the bucket is a JSON document:
//
//	{"enabled": true, "properties": {"greeting": "hi", "log.target": "name == \"console\""}}
//
// Properties overlay the descriptor's properties. A "<reference>.target"
// property replaces that reference's target filter. Deleting the entry
// restores the file configuration.
//
//	cm, err := config.NewConfigManager(ctx, cfg, natsClient, runtime, logger)
//	if err != nil {
//		return err
//	}
//	if err := cm.Start(ctx); err != nil {
//		return err
//	}
//	defer cm.Stop(5 * time.Second)
//
//	for update := range cm.OnChange("components.*") {
//		logger.Info("component reconfigured", "component", update.Component)
//	}
//
// On Start an empty bucket, or one holding an older version than the file,
// is overwritten with the file configuration. Otherwise the bucket wins.
//
// # Property Helpers
//
// GetString, GetInt, GetBool, GetDuration and friends read typed values out
// of decoded property maps without panicking.
package config
