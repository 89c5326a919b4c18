package meteradapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	telemetry "powerwatch/internal/telemetry/domain"
)

const sensorsPath = "/sensors"

var (
	// ErrBadStatus is returned for non-2xx meter responses.
	ErrBadStatus = errors.New("meteradapter: unexpected status")
	// ErrMalformedPayload is returned when the sensors document is incomplete or unparsable.
	ErrMalformedPayload = errors.New("meteradapter: malformed payload")
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Client fetches samples from the meter's REST endpoint.
type Client struct {
	baseURL  string
	client   *http.Client
	location *time.Location
	clock    Clock
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLocation sets the zone the meter's local timestamp is interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithClock overrides the receive-time clock.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewClient constructs a meter client. address may be a bare host ("192.168.1.25")
// or a full base URL.
func NewClient(address string, timeout time.Duration, opts ...Option) (*Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("meteradapter: empty address")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(address, "/"),
		client:   &http.Client{Timeout: timeout},
		location: time.Local,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// sensorsDocument mirrors the meter JSON. Pointers distinguish missing keys from zeros.
type sensorsDocument struct {
	HostName *string  `json:"HostName"`
	Uptime   *float64 `json:"UPTIME"`
	DateTime *string  `json:"DATETIME"`
	UnixTime *float64 `json:"UNIXTIME"`

	U1   *float64 `json:"U1"`
	I1   *float64 `json:"I1"`
	W1   *float64 `json:"W1"`
	KWH1 *float64 `json:"KWH1"`
	U2   *float64 `json:"U2"`
	I2   *float64 `json:"I2"`
	W2   *float64 `json:"W2"`
	KWH2 *float64 `json:"KWH2"`
	U3   *float64 `json:"U3"`
	I3   *float64 `json:"I3"`
	W3   *float64 `json:"W3"`
	KWH3 *float64 `json:"KWH3"`

	U0   *float64 `json:"U0"`
	I0   *float64 `json:"I0"`
	W0   *float64 `json:"W0"`
	KWH0 *float64 `json:"KWH0"`

	T1    *float64 `json:"T1"`
	H1    *float64 `json:"H1"`
	WIFI1 *float64 `json:"WIFI1"`
}

// Fetch retrieves and normalizes one sample. Any transport, status or payload
// problem yields an error and no partial measurement.
func (c *Client) Fetch(ctx context.Context) (telemetry.Measurement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sensorsPath, nil)
	if err != nil {
		return telemetry.Measurement{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return telemetry.Measurement{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return telemetry.Measurement{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	var doc sensorsDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return telemetry.Measurement{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return c.normalize(doc)
}

func (c *Client) normalize(doc sensorsDocument) (telemetry.Measurement, error) {
	var missing []string
	num := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return *v
	}

	m := telemetry.Measurement{
		Phases: [telemetry.PhaseCount]telemetry.PhaseReading{
			{Voltage: num("U1", doc.U1), Current: num("I1", doc.I1), Power: num("W1", doc.W1), EnergyKWh: num("KWH1", doc.KWH1)},
			{Voltage: num("U2", doc.U2), Current: num("I2", doc.I2), Power: num("W2", doc.W2), EnergyKWh: num("KWH2", doc.KWH2)},
			{Voltage: num("U3", doc.U3), Current: num("I3", doc.I3), Power: num("W3", doc.W3), EnergyKWh: num("KWH3", doc.KWH3)},
		},
		Totals: telemetry.Totals{
			Voltage:   num("U0", doc.U0),
			Current:   num("I0", doc.I0),
			Power:     num("W0", doc.W0),
			EnergyKWh: num("KWH0", doc.KWH0),
		},
		Temperature: num("T1", doc.T1),
		Humidity:    num("H1", doc.H1),
		WifiSignal:  num("WIFI1", doc.WIFI1),
		Uptime:      int64(num("UPTIME", doc.Uptime)),
		DeviceUnix:  int64(num("UNIXTIME", doc.UnixTime)),
		ReceivedAt:  c.clock.Now(),
	}
	if doc.HostName == nil {
		missing = append(missing, "HostName")
	} else {
		m.Hostname = *doc.HostName
	}
	if doc.DateTime == nil {
		missing = append(missing, "DATETIME")
	}
	if len(missing) > 0 {
		return telemetry.Measurement{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, strings.Join(missing, ","))
	}

	deviceTime, err := time.ParseInLocation(telemetry.DeviceTimeLayout, strings.TrimSpace(*doc.DateTime), c.location)
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("%w: DATETIME %q", ErrMalformedPayload, *doc.DateTime)
	}
	m.DeviceTime = deviceTime

	if err := m.Validate(); err != nil {
		return telemetry.Measurement{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return m, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
