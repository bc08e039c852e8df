// Package discovery produces Home Assistant MQTT discovery payloads. It is a
// deterministic, stateless transform — given the same inputs it always
// returns the same (topic, payload) pairs.
package discovery

import (
	"encoding/json"
	"strconv"
)

// DeviceBlock describes the physical board for every entity's "device" key.
type DeviceBlock struct {
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Identifiers  []string `json:"identifiers"`
}

// Entry is one discovery message: a retained config topic and its payload.
type Entry struct {
	Topic   string
	Payload []byte
}

type binarySensorPayload struct {
	Name              string      `json:"name"`
	UniqueID          string      `json:"unique_id"`
	StateTopic        string      `json:"state_topic"`
	AvailabilityTopic string      `json:"availability_topic"`
	PayloadOn         string      `json:"payload_on"`
	PayloadOff        string      `json:"payload_off"`
	Device            DeviceBlock `json:"device"`
	Icon              string      `json:"icon"`
}

type switchPayload struct {
	Name              string      `json:"name"`
	UniqueID          string      `json:"unique_id"`
	StateTopic        string      `json:"state_topic"`
	CommandTopic      string      `json:"command_topic"`
	AvailabilityTopic string      `json:"availability_topic"`
	PayloadOn         string      `json:"payload_on"`
	PayloadOff        string      `json:"payload_off"`
	Icon              string      `json:"icon"`
	Device            DeviceBlock `json:"device"`
}

type analogSensorPayload struct {
	Name              string      `json:"name"`
	UniqueID          string      `json:"unique_id"`
	StateTopic        string      `json:"state_topic"`
	AvailabilityTopic string      `json:"availability_topic"`
	StateClass        string      `json:"state_class"`
	Icon              string      `json:"icon"`
	Device            DeviceBlock `json:"device"`
}

// BinarySensor builds the discovery entry for input pin n.
func BinarySensor(prefix, base string, dev DeviceBlock, n int) Entry {
	topic := prefix + "/binary_sensor/" + dev.Name + "/S" + strconv.Itoa(n) + "/config"
	payload := binarySensorPayload{
		Name:              "S" + strconv.Itoa(n),
		UniqueID:          dev.Name + "_s_" + strconv.Itoa(n),
		StateTopic:        base + "/S" + strconv.Itoa(n) + "/state",
		AvailabilityTopic: base + "/availability",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            dev,
		Icon:              "mdi:toggle-switch",
	}
	return mustEntry(topic, payload)
}

// Switch builds the discovery entry for output pin n.
func Switch(prefix, base string, dev DeviceBlock, n int) Entry {
	topic := prefix + "/switch/" + dev.Name + "/P" + strconv.Itoa(n) + "/config"
	payload := switchPayload{
		Name:              "P" + strconv.Itoa(n),
		UniqueID:          dev.Name + "_p_" + strconv.Itoa(n),
		StateTopic:        base + "/P" + strconv.Itoa(n) + "/state",
		CommandTopic:      base + "/P" + strconv.Itoa(n) + "/set",
		AvailabilityTopic: base + "/availability",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Icon:              "mdi:electric-switch",
		Device:            dev,
	}
	return mustEntry(topic, payload)
}

// AnalogSensor builds the discovery entry for analog channel k.
func AnalogSensor(prefix, base string, dev DeviceBlock, k int) Entry {
	topic := prefix + "/sensor/" + dev.Name + "/A" + strconv.Itoa(k) + "/config"
	payload := analogSensorPayload{
		Name:              "A" + strconv.Itoa(k),
		UniqueID:          dev.Name + "_a_" + strconv.Itoa(k),
		StateTopic:        base + "/A" + strconv.Itoa(k) + "/state",
		AvailabilityTopic: base + "/availability",
		StateClass:        "measurement",
		Icon:              "mdi:waveform",
		Device:            dev,
	}
	return mustEntry(topic, payload)
}

func mustEntry(topic string, payload any) Entry {
	data, err := json.Marshal(payload)
	if err != nil {
		// payload types above are all static structs of strings/slices;
		// marshaling cannot fail.
		panic(err)
	}
	return Entry{Topic: topic, Payload: data}
}
