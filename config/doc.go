// Package config loads the worker configuration.
//
// Values come from three sources, later ones winning:
//
//  1. Defaults()
//  2. JSON layers added with Loader.AddLayer, merged key by key
//  3. LIMB_* environment variables
//
// Example layer:
//
//	{
//	  "broker":   {"host": "nats.internal", "heartbeat_max": "30s", "prefetch": 8},
//	  "storage":  {"uri": "sqlite:///var/lib/limb/media.db"},
//	  "modules":  {"scan_dirs": ["/opt/limb/processors"], "require_any": true},
//	  "dispatch": {"workers": 4, "failure_policy": "ack"}
//	}
//
// Durations are written as Go duration strings. Environment overrides:
//
//	LIMB_BROKER_HOST LIMB_BROKER_PORT LIMB_BROKER_USER LIMB_BROKER_PASSWORD
//	LIMB_BROKER_TOKEN LIMB_BROKER_NAME LIMB_BROKER_PREFETCH
//	LIMB_BROKER_HEARTBEAT_MAX LIMB_STORAGE_URI LIMB_STORAGE_BUCKET
//	LIMB_STORAGE_DATABASE LIMB_MODULES_SCAN_DIRS (comma separated)
//	LIMB_DISPATCH_WORKERS LIMB_DISPATCH_QUEUE_SIZE LIMB_DISPATCH_FAILURE_POLICY
//	LIMB_DISPATCH_SHUTDOWN_TIMEOUT LIMB_HTTP_ENABLED LIMB_HTTP_ADDR
//	LIMB_LOG_LEVEL LIMB_LOG_FORMAT
//
// Load validates the result unless validation was disabled; failures wrap
// errors.ErrInvalidConfig or errors.ErrMissingConfig.
package config
