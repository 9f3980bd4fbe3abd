// Package coreapi is the HTTP client for the building core API. It covers
// every read and write surface in core/retriever: the device inventory,
// live states, preference and historic series, weather data, the load
// forecast and the two command endpoints.
package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
)

// MPCPriority is the schedule slot the optimizer writes under. Schedules
// posted at this priority override the regular home automation ones for the
// duration of the control window.
const MPCPriority = 25

const defaultTimeout = 30 * time.Second

// Config locates the core API.
type Config struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// Client talks to the core API. It implements the retriever interfaces.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
}

// Interface checks, the MPC and controller wiring depend on all of these.
var (
	_ retriever.DeviceReader       = (*Client)(nil)
	_ retriever.StateReader        = (*Client)(nil)
	_ retriever.PreferenceReader   = (*Client)(nil)
	_ retriever.WeatherReader      = (*Client)(nil)
	_ retriever.HistoricReader     = (*Client)(nil)
	_ retriever.LoadForecastReader = (*Client)(nil)
	_ retriever.ConsumptionReader  = (*Client)(nil)
	_ retriever.CommandWriter      = (*Client)(nil)
)

// New creates a client for the API at cfg.BaseURL.
func New(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// wireDevice decodes one registry record. The API keeps the type specific
// static parameters flat on the record, so everything numeric beyond the
// identity fields lands in Attrs.
type wireDevice struct {
	spec        model.DeviceSpec
	hasPriority bool
}

func (d *wireDevice) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	spec := model.DeviceSpec{Attrs: make(map[string]float64)}
	for k, v := range raw {
		switch k {
		case "entity_id":
			spec.EntityID, _ = v.(string)
		case "type":
			s, _ := v.(string)
			spec.Type = model.DeviceType(s)
		case "priority":
			if f, ok := v.(float64); ok {
				spec.Priority = int(f)
				d.hasPriority = true
			}
		case "critical_action":
			if f, ok := v.(float64); ok {
				spec.CriticalAction = f
			}
		case "thermal_zone":
			spec.ThermalZone, _ = v.(string)
		default:
			if f, ok := v.(float64); ok {
				spec.Attrs[k] = f
			}
		}
	}
	d.spec = spec
	return nil
}

// Devices lists the installed devices. Records without a priority cannot be
// ranked and are dropped; records of a type the optimizer does not know are
// dropped too.
func (c *Client) Devices(ctx context.Context) ([]model.DeviceSpec, error) {
	var payload struct {
		Content []wireDevice `json:"content"`
	}
	if err := c.getJSON(ctx, "/devices", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]model.DeviceSpec, 0, len(payload.Content))
	for _, d := range payload.Content {
		if !d.hasPriority {
			c.log.Warnf("device %q carries no priority, skipping", d.spec.EntityID)
			continue
		}
		if _, err := model.ParseDeviceType(string(d.spec.Type)); err != nil {
			c.log.Warnf("device %q has unknown type %q, skipping", d.spec.EntityID, d.spec.Type)
			continue
		}
		out = append(out, d.spec)
	}
	c.log.Debugf("retrieved %d devices from the core api", len(out))
	return out, nil
}

// DeviceState reads the default state value of one device.
func (c *Client) DeviceState(ctx context.Context, entityID string) (float64, error) {
	var v float64
	err := c.getJSON(ctx, "/devices/state/"+url.PathEscape(entityID), nil, &v)
	return v, err
}

// DeviceStateField reads a named state field of one device.
func (c *Client) DeviceStateField(ctx context.Context, entityID, field string) (float64, error) {
	var v float64
	q := url.Values{"field": {field}}
	err := c.getJSON(ctx, "/devices/state/"+url.PathEscape(entityID), q, &v)
	return v, err
}

// TotalConsumption reads the live building consumption from the site meter.
func (c *Client) TotalConsumption(ctx context.Context) (float64, error) {
	var payload struct {
		TotalConsumption float64 `json:"total_consumption"`
	}
	if err := c.getJSON(ctx, "/building/consumption", nil, &payload); err != nil {
		return 0, err
	}
	return payload.TotalConsumption, nil
}

// Preferences reads one preference series for one device over [start, stop].
func (c *Client) Preferences(ctx context.Context, kind retriever.PreferenceKind, deviceID string, start, stop time.Time) (model.Series, error) {
	q := rangeQuery(start, stop)
	q.Set("device_id", deviceID)
	return c.getSeries(ctx, "/data/preferences/"+url.PathEscape(string(kind)), q)
}

// Historic reads one historical series over [start, stop]. An empty deviceID
// queries the whole site.
func (c *Client) Historic(ctx context.Context, kind retriever.HistoricKind, deviceID string, start, stop time.Time) (model.Series, error) {
	q := rangeQuery(start, stop)
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	return c.getSeries(ctx, "/data/historic/"+url.PathEscape(string(kind)), q)
}

// WeatherForecast reads a forecast weather series.
func (c *Client) WeatherForecast(ctx context.Context, variable retriever.WeatherVariable, start, stop time.Time) (model.Series, error) {
	return c.getSeries(ctx, "/data/weather/forecast/"+url.PathEscape(string(variable)), rangeQuery(start, stop))
}

// WeatherHistoric reads a historic weather series.
func (c *Client) WeatherHistoric(ctx context.Context, variable retriever.WeatherVariable, start, stop time.Time) (model.Series, error) {
	return c.getSeries(ctx, "/data/weather/historic/"+url.PathEscape(string(variable)), rangeQuery(start, stop))
}

// NonControllableLoads reads the forecast of the site's uncontrolled base
// load over [start, stop].
func (c *Client) NonControllableLoads(ctx context.Context, start, stop time.Time) (model.Series, error) {
	var payload struct {
		Forecast map[string]float64 `json:"forecast"`
	}
	if err := c.getJSON(ctx, "/data/forecast/non-controllable-loads", rangeQuery(start, stop), &payload); err != nil {
		return model.Series{}, err
	}
	return parseSeries(payload.Forecast)
}

// WriteSetpoint pushes one setpoint to one device.
func (c *Client) WriteSetpoint(ctx context.Context, entityID string, setpoint float64) error {
	q := url.Values{"setpoint": {strconv.FormatFloat(setpoint, 'f', -1, 64)}}
	return c.post(ctx, "/devices/setpoint/"+url.PathEscape(entityID), q, nil)
}

// WriteSchedule posts the MPC schedule under the MPC priority slot.
func (c *Client) WriteSchedule(ctx context.Context, schedule *model.ControlSchedule) error {
	body, err := schedule.MarshalWire()
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	return c.post(ctx, fmt.Sprintf("/devices/schedule/%d", MPCPriority), nil, body)
}

func rangeQuery(start, stop time.Time) url.Values {
	return url.Values{
		"start": {start.Format(time.RFC3339)},
		"stop":  {stop.Format(time.RFC3339)},
	}
}

// parseSeries converts the API's timestamp keyed object into a sorted series.
func parseSeries(raw map[string]float64) (model.Series, error) {
	points := make(map[time.Time]float64, len(raw))
	for ts, v := range raw {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return model.Series{}, fmt.Errorf("%w: bad timestamp %q", model.ErrInvalidInput, ts)
		}
		points[t] = v
	}
	return model.SeriesFromMap(points), nil
}

func (c *Client) getSeries(ctx context.Context, path string, query url.Values) (model.Series, error) {
	var raw map[string]float64
	if err := c.getJSON(ctx, path, query, &raw); err != nil {
		return model.Series{}, err
	}
	return parseSeries(raw)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body []byte) error {
	_, err := c.do(ctx, http.MethodPost, path, query, body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: unexpected status code %d, body: %s", method, path, resp.StatusCode, payload)
	}
	return payload, nil
}
