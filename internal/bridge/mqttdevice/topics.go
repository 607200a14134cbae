package mqttdevice

import "strings"

func stateTopic(id, property string) string {
	return "devices/" + id + "/state/" + property
}

func setTopic(id, property string) string {
	return "devices/" + id + "/set/" + property
}

func eventTopic(id, event string) string {
	return "devices/" + id + "/event/" + event
}

func invokeRequestTopic(id, method string) string {
	return "devices/" + id + "/invoke/" + method + "/req"
}

func invokeResponseTopic(id, method string) string {
	return "devices/" + id + "/invoke/" + method + "/res"
}

// topicSuffix returns the last path segment of an MQTT topic, i.e. the
// property, event, or method name a subscription wildcard expanded.
func topicSuffix(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 {
		return topic
	}
	return topic[idx+1:]
}
