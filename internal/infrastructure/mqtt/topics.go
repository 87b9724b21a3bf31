package mqtt

import "fmt"

// Topic prefixes for Warden MQTT traffic.
const (
	// TopicPrefix is the root of every Warden topic.
	TopicPrefix = "warden"

	// TopicPrefixSecurity carries audit events and alerts.
	TopicPrefixSecurity = "warden/security"

	// TopicPrefixCache carries cross-instance cache invalidations.
	TopicPrefixCache = "warden/cache"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "warden/system"
)

// Topics provides builders for Warden MQTT topics.
//
//	topic := mqtt.Topics{}.SecurityEvent("login_failed")
//	// Returns: "warden/security/event/login_failed"
type Topics struct{}

// SecurityEvent returns the topic an audit action is published on.
//
// Example: warden/security/event/login
func (Topics) SecurityEvent(action string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixSecurity, action)
}

// SecurityAlert returns the topic for events an operator should act on,
// such as refresh token reuse or a corrupted menu table.
//
// Example: warden/security/alert/token_reuse
func (Topics) SecurityAlert(kind string) string {
	return fmt.Sprintf("%s/alert/%s", TopicPrefixSecurity, kind)
}

// CacheInvalidate returns the topic announcing that a named cache is stale.
//
// Example: warden/cache/menus/invalidate
func (Topics) CacheInvalidate(cache string) string {
	return fmt.Sprintf("%s/%s/invalidate", TopicPrefixCache, cache)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: warden/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllSecurityEvents matches every audit event.
//
// Pattern: warden/security/event/+
func (Topics) AllSecurityEvents() string {
	return TopicPrefixSecurity + "/event/+"
}

// AllSecurityAlerts matches every alert.
//
// Pattern: warden/security/alert/+
func (Topics) AllSecurityAlerts() string {
	return TopicPrefixSecurity + "/alert/+"
}

// AllTopics matches all Warden traffic.
//
// Pattern: warden/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
