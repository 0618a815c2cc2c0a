// Package wire decodes bus frames (spec.md §6 "Bus streams consumed")
// into the domain types internal/engine and internal/registry operate
// on. The original agent received these over fty_proto ZPL frames;
// here they travel as JSON values on Kafka topics, but the fields
// carried are the same ones §4.D/§4.F name explicitly.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"flexalert/internal/engine"
	"flexalert/internal/registry"
)

// AssetMessage is the JSON shape of a frame on the assets stream.
type AssetMessage struct {
	Operation string            `json:"operation"`
	Iname     string            `json:"iname"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Subtype   string            `json:"subtype"`
	Model     string            `json:"model"`
	Ext       map[string]string `json:"ext"`
}

// DecodeAsset parses an assets-stream frame into a registry.Event.
func DecodeAsset(data []byte) (registry.Event, error) {
	var m AssetMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return registry.Event{}, fmt.Errorf("decode asset message: %w", err)
	}
	if m.Iname == "" {
		return registry.Event{}, fmt.Errorf("decode asset message: missing iname")
	}
	return registry.Event{
		Operation: m.Operation,
		Iname:     m.Iname,
		Status:    m.Status,
		Type:      m.Type,
		Subtype:   m.Subtype,
		Model:     m.Model,
		Ext:       m.Ext,
	}, nil
}

// MetricMessage is the JSON shape of a frame on the regular-metrics or
// licensing-announcements stream.
type MetricMessage struct {
	Quantity string `json:"quantity"`
	Asset    string `json:"asset"`
	Value    string `json:"value"`
	TTLSec   int    `json:"ttl"`
}

// Decoded fields needed to call engine.Engine.UpsertMetric.
type Metric struct {
	Quantity string
	Asset    string
	Value    string
	TTL      time.Duration
}

// DecodeMetric parses a regular/licensing-stream frame.
func DecodeMetric(data []byte) (Metric, error) {
	var m MetricMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Metric{}, fmt.Errorf("decode metric message: %w", err)
	}
	if m.Quantity == "" || m.Asset == "" {
		return Metric{}, fmt.Errorf("decode metric message: missing quantity or asset")
	}
	return Metric{Quantity: m.Quantity, Asset: m.Asset, Value: m.Value, TTL: time.Duration(m.TTLSec) * time.Second}, nil
}

// SensorMetricMessage is the JSON shape of a frame on the
// sensor-metrics stream, carrying the aux attributes §4.F's GPI
// recognition rule depends on.
type SensorMetricMessage struct {
	Quantity string `json:"quantity"`
	Asset    string `json:"asset"`
	Value    string `json:"value"`
	TTLSec   int    `json:"ttl"`
	Port     string `json:"port"`
	ExtPort  bool   `json:"ext_port"`
	SName    string `json:"sname"`
}

// DecodeSensorMetric parses a sensor-metrics-stream frame into an
// engine.SensorMetricEvent.
func DecodeSensorMetric(data []byte) (engine.SensorMetricEvent, error) {
	var m SensorMetricMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return engine.SensorMetricEvent{}, fmt.Errorf("decode sensor metric message: %w", err)
	}
	if m.Quantity == "" || m.SName == "" {
		return engine.SensorMetricEvent{}, fmt.Errorf("decode sensor metric message: missing quantity or sname")
	}
	return engine.SensorMetricEvent{
		Quantity: m.Quantity,
		Asset:    m.Asset,
		Value:    m.Value,
		TTL:      time.Duration(m.TTLSec) * time.Second,
		Port:     m.Port,
		ExtPort:  m.ExtPort,
		SName:    m.SName,
	}, nil
}
