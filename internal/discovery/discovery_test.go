package discovery

import (
	"encoding/json"
	"testing"
)

var testDevice = DeviceBlock{
	Name:         "jarvis_arduino",
	Manufacturer: "Hudrolax",
	Model:        "JA01",
	Identifiers:  []string{"ja01-arduino-test"},
}

func TestBinarySensor_TopicAndPayload(t *testing.T) {
	e := BinarySensor("homeassistant", "home/jarvis_arduino", testDevice, 38)

	wantTopic := "homeassistant/binary_sensor/jarvis_arduino/S38/config"
	if e.Topic != wantTopic {
		t.Errorf("Topic = %q, want %q", e.Topic, wantTopic)
	}

	var got binarySensorPayload
	if err := json.Unmarshal(e.Payload, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.StateTopic != "home/jarvis_arduino/S38/state" {
		t.Errorf("StateTopic = %q", got.StateTopic)
	}
	if got.AvailabilityTopic != "home/jarvis_arduino/availability" {
		t.Errorf("AvailabilityTopic = %q", got.AvailabilityTopic)
	}
	if got.UniqueID != "jarvis_arduino_s_38" {
		t.Errorf("UniqueID = %q", got.UniqueID)
	}
	if got.Device.Manufacturer != "Hudrolax" {
		t.Errorf("Device = %+v", got.Device)
	}
}

func TestSwitch_TopicAndPayload(t *testing.T) {
	e := Switch("homeassistant", "home/jarvis_arduino", testDevice, 36)

	wantTopic := "homeassistant/switch/jarvis_arduino/P36/config"
	if e.Topic != wantTopic {
		t.Errorf("Topic = %q, want %q", e.Topic, wantTopic)
	}

	var got switchPayload
	if err := json.Unmarshal(e.Payload, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.CommandTopic != "home/jarvis_arduino/P36/set" {
		t.Errorf("CommandTopic = %q", got.CommandTopic)
	}
	if got.StateTopic != "home/jarvis_arduino/P36/state" {
		t.Errorf("StateTopic = %q", got.StateTopic)
	}
}

func TestAnalogSensor_TopicAndPayload(t *testing.T) {
	e := AnalogSensor("homeassistant", "home/jarvis_arduino", testDevice, 4)

	wantTopic := "homeassistant/sensor/jarvis_arduino/A4/config"
	if e.Topic != wantTopic {
		t.Errorf("Topic = %q, want %q", e.Topic, wantTopic)
	}

	var got analogSensorPayload
	if err := json.Unmarshal(e.Payload, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.StateClass != "measurement" {
		t.Errorf("StateClass = %q, want measurement", got.StateClass)
	}
	if got.StateTopic != "home/jarvis_arduino/A4/state" {
		t.Errorf("StateTopic = %q", got.StateTopic)
	}
}
