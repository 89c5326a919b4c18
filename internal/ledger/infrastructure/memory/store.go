// Package memory is an in-process ledger for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alarms "powerwatch/internal/alarms/domain"
	"powerwatch/internal/analytics/domain/statistic"
	"powerwatch/internal/ledger"
	masterdata "powerwatch/internal/masterdata/domain"
	telemetry "powerwatch/internal/telemetry/domain"
)

// MeasurementRecord is a stored raw sample.
type MeasurementRecord struct {
	DeviceID    int64
	Measurement telemetry.Measurement
}

// Store keeps every record in memory behind one mutex.
type Store struct {
	mu sync.Mutex

	nextID       int64
	devices      []masterdata.Device
	events       []alarms.AnomalyEvent
	hourly       []statistic.HourlyReport
	daily        []statistic.DailyReport
	measurements []MeasurementRecord

	// FailEvents, FailReports and FailMark inject write errors.
	FailEvents  error
	FailReports error
	FailMark    error
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{}
}

// Session returns a handle on the shared state.
func (s *Store) Session(context.Context) (ledger.Session, error) {
	return &session{store: s}, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Events returns a copy of every stored event.
func (s *Store) Events() []alarms.AnomalyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alarms.AnomalyEvent(nil), s.events...)
}

// HourlyReports returns a copy of every stored hourly report.
func (s *Store) HourlyReports() []statistic.HourlyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statistic.HourlyReport(nil), s.hourly...)
}

// DailyReports returns a copy of every stored daily report.
func (s *Store) DailyReports() []statistic.DailyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statistic.DailyReport(nil), s.daily...)
}

// Measurements returns a copy of every stored sample.
func (s *Store) Measurements() []MeasurementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MeasurementRecord(nil), s.measurements...)
}

// Devices returns a copy of every stored device.
func (s *Store) Devices() []masterdata.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]masterdata.Device(nil), s.devices...)
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

type session struct {
	store  *Store
	closed bool
}

func (s *session) lock() (*Store, error) {
	if s.closed {
		return nil, ledger.ErrSessionClosed
	}
	s.store.mu.Lock()
	return s.store, nil
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

func (s *session) GetOrCreateDevice(_ context.Context, device masterdata.Device) (masterdata.Device, error) {
	device = device.WithDefaults()
	if err := device.Validate(); err != nil {
		return masterdata.Device{}, err
	}
	st, err := s.lock()
	if err != nil {
		return masterdata.Device{}, err
	}
	defer st.mu.Unlock()
	for _, d := range st.devices {
		if d.Address == device.Address {
			return d, nil
		}
	}
	device.ID = st.id()
	device.CreatedAt = time.Now().UTC()
	st.devices = append(st.devices, device)
	return device, nil
}

func (s *session) UpdateDeviceHostname(_ context.Context, deviceID int64, hostname string) error {
	st, err := s.lock()
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	for i := range st.devices {
		if st.devices[i].ID == deviceID {
			st.devices[i].Hostname = hostname
			return nil
		}
	}
	return ledger.ErrDeviceNotFound
}

func (s *session) RecordEvents(_ context.Context, events []alarms.AnomalyEvent) ([]int64, error) {
	st, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()
	if st.FailEvents != nil {
		return nil, st.FailEvents
	}
	ids := make([]int64, 0, len(events))
	for _, evt := range events {
		evt.ID = st.id()
		evt.Notified = false
		st.events = append(st.events, evt)
		ids = append(ids, evt.ID)
	}
	return ids, nil
}

func (s *session) RecordHourlyReport(_ context.Context, report statistic.HourlyReport) (int64, error) {
	st, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer st.mu.Unlock()
	if st.FailReports != nil {
		return 0, st.FailReports
	}
	report.ID = st.id()
	st.hourly = append(st.hourly, report)
	return report.ID, nil
}

func (s *session) RecordDailyReport(_ context.Context, report statistic.DailyReport) (int64, error) {
	st, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer st.mu.Unlock()
	if st.FailReports != nil {
		return 0, st.FailReports
	}
	report.ID = st.id()
	st.daily = append(st.daily, report)
	return report.ID, nil
}

func (s *session) RecordMeasurement(_ context.Context, deviceID int64, m telemetry.Measurement) error {
	st, err := s.lock()
	if err != nil {
		return err
	}
	defer st.mu.Unlock()
	st.measurements = append(st.measurements, MeasurementRecord{DeviceID: deviceID, Measurement: m})
	return nil
}

func (s *session) FetchUnnotified(_ context.Context, exclude []alarms.EventType) ([]alarms.AnomalyEvent, error) {
	st, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()
	skip := typeSet(exclude)
	var out []alarms.AnomalyEvent
	for _, evt := range st.events {
		if evt.Notified || skip[evt.Type] {
			continue
		}
		out = append(out, evt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceUnix != b.SourceUnix {
			return a.SourceUnix < b.SourceUnix
		}
		if !a.SourceTime.Equal(b.SourceTime) {
			return a.SourceTime.Before(b.SourceTime)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *session) MarkNotified(_ context.Context, ids []int64) (int64, error) {
	st, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer st.mu.Unlock()
	if st.FailMark != nil {
		return 0, st.FailMark
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var n int64
	for i := range st.events {
		if _, ok := want[st.events[i].ID]; ok && !st.events[i].Notified {
			st.events[i].Notified = true
			n++
		}
	}
	return n, nil
}

func (s *session) SuppressUnnotified(_ context.Context, types []alarms.EventType) (int64, error) {
	st, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer st.mu.Unlock()
	if st.FailMark != nil {
		return 0, st.FailMark
	}
	match := typeSet(types)
	var n int64
	for i := range st.events {
		if match[st.events[i].Type] && !st.events[i].Notified {
			st.events[i].Notified = true
			n++
		}
	}
	return n, nil
}

func (s *session) CountUnnotified(context.Context) (int64, error) {
	st, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer st.mu.Unlock()
	var n int64
	for _, evt := range st.events {
		if !evt.Notified {
			n++
		}
	}
	return n, nil
}

func (s *session) ListHourlyReports(_ context.Context, deviceID int64, from, to time.Time) ([]statistic.HourlyReport, error) {
	st, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()
	var out []statistic.HourlyReport
	for _, r := range st.hourly {
		unix := r.CreatedAt.Unix()
		if r.DeviceID == deviceID && unix >= from.Unix() && unix < to.Unix() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func typeSet(types []alarms.EventType) map[alarms.EventType]bool {
	set := make(map[alarms.EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
