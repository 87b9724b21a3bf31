// Package mqtt provides MQTT connectivity for Warden.
//
// Warden publishes audit events and security alerts to the broker so that
// SIEM collectors and operators can follow authentication activity live.
// Instances also announce menu writes on a cache topic, which lets every
// instance behind a load balancer drop its cached menu forest.
//
//	warden/security/event/{action}     every audit entry
//	warden/security/alert/{kind}       token reuse, menu cycles
//	warden/cache/{name}/invalidate     cross-instance cache invalidation
//	warden/system/status               retained online/offline status (LWT)
//
// TLS should be enabled in production (cfg.Broker.TLS). Payloads are JSON
// and never carry passwords or tokens.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.SecurityEvent("login"), entry)
package mqtt
