package protocol

import (
	"encoding/json"
	"fmt"
)

// QueryKind selects one of the three fixed subscription documents.
type QueryKind int

const (
	QueryConsole QueryKind = iota
	QuerySensors
	QueryConfig
)

func (k QueryKind) String() string {
	switch k {
	case QueryConsole:
		return "console"
	case QuerySensors:
		return "sensors"
	case QueryConfig:
		return "config"
	}
	return fmt.Sprintf("QueryKind(%d)", int(k))
}

// The three subscription documents the connection issues after the handshake.
// sid/region variables address one server in one hosting region.
const (
	consoleQuery = `subscription consoleMessages($sid: Int!, $region: REGION!) {
  consoleMessages(rsid: {id: $sid, region: $region}) {
    stream
    channel
    message
    __typename
  }
}`

	sensorsQuery = `subscription serviceSensors($sid: Int!, $region: REGION!) {
  serviceSensors(rsid: {id: $sid, region: $region}) {
    cpu
    cpuTotal
    memory {
      percent
      used
      total
      __typename
    }
    uptime
    __typename
  }
}`

	configQuery = `subscription ctx($sid: Int!, $region: REGION!) {
  ctx(rsid: {id: $sid, region: $region}) {
    state {
      state
      fsmState
      fsmIsTransitioning
      ipAddress
      __typename
    }
    __typename
  }
}`
)

func document(kind QueryKind) (doc, operationName string, err error) {
	switch kind {
	case QueryConsole:
		return consoleQuery, "consoleMessages", nil
	case QuerySensors:
		return sensorsQuery, "serviceSensors", nil
	case QueryConfig:
		return configQuery, "ctx", nil
	}
	return "", "", fmt.Errorf("unknown query kind %d", int(kind))
}

// ConsolePayload is the data payload of one console message frame.
type ConsolePayload struct {
	Stream  string
	Channel string
	Message string
}

// SensorPayload is the data payload of one service sensor frame.
type SensorPayload struct {
	CPU           float64
	CPUTotal      float64
	MemoryPercent float64
	MemoryUsedMB  int64
	MemoryTotalMB int64
	UptimeSeconds int64
}

// ConfigPayload is the data payload of one config context frame.
type ConfigPayload struct {
	State           string
	FSMState        string
	IsTransitioning bool
	IPAddress       string
}

// ParseConsolePayload extracts the console message from a data frame payload.
func ParseConsolePayload(raw json.RawMessage) (ConsolePayload, error) {
	var body struct {
		Data struct {
			ConsoleMessages struct {
				Stream  string `json:"stream"`
				Channel string `json:"channel"`
				Message string `json:"message"`
			} `json:"consoleMessages"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ConsolePayload{}, &DecodeError{Reason: "malformed console payload", Err: err}
	}
	m := body.Data.ConsoleMessages
	return ConsolePayload{Stream: m.Stream, Channel: m.Channel, Message: m.Message}, nil
}

// ParseSensorPayload extracts telemetry from a data frame payload.
func ParseSensorPayload(raw json.RawMessage) (SensorPayload, error) {
	var body struct {
		Data struct {
			ServiceSensors struct {
				CPU      float64 `json:"cpu"`
				CPUTotal float64 `json:"cpuTotal"`
				Memory   struct {
					Percent float64 `json:"percent"`
					Used    int64   `json:"used"`
					Total   int64   `json:"total"`
				} `json:"memory"`
				Uptime int64 `json:"uptime"`
			} `json:"serviceSensors"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return SensorPayload{}, &DecodeError{Reason: "malformed sensor payload", Err: err}
	}
	s := body.Data.ServiceSensors
	return SensorPayload{
		CPU:           s.CPU,
		CPUTotal:      s.CPUTotal,
		MemoryPercent: s.Memory.Percent,
		MemoryUsedMB:  s.Memory.Used,
		MemoryTotalMB: s.Memory.Total,
		UptimeSeconds: s.Uptime,
	}, nil
}

// ParseConfigPayload extracts the service state from a data frame payload.
func ParseConfigPayload(raw json.RawMessage) (ConfigPayload, error) {
	var body struct {
		Data struct {
			Ctx struct {
				State struct {
					State           string `json:"state"`
					FSMState        string `json:"fsmState"`
					IsTransitioning bool   `json:"fsmIsTransitioning"`
					IPAddress       string `json:"ipAddress"`
				} `json:"state"`
			} `json:"ctx"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ConfigPayload{}, &DecodeError{Reason: "malformed config payload", Err: err}
	}
	st := body.Data.Ctx.State
	return ConfigPayload{
		State:           st.State,
		FSMState:        st.FSMState,
		IsTransitioning: st.IsTransitioning,
		IPAddress:       st.IPAddress,
	}, nil
}
