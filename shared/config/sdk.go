package config

import (
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultAPIURL = "https://ingest.tapistry.app"

var DefaultQueryAllowlist = []string{
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
	"gclid",
	"fbclid",
	"variant",
	"lang",
}

type Transport struct {
	BatchSize      int
	BatchTimeout   time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	BeaconMaxBytes int
	RequestTimeout time.Duration
}

// SDK holds the client-side tunables. Values are read through a Store
// snapshot and never mutated in place.
type SDK struct {
	ProjectKey          string
	APIURL              string
	MaskText            bool
	RespectDNT          bool
	Debug               bool
	MaxEventsPerSession int
	SessionTimeout      time.Duration
	QueryAllowlist      []string
	ScrollMilestones    []int
	Transport           Transport
}

func DefaultSDK() SDK {
	return SDK{
		APIURL:              DefaultAPIURL,
		MaskText:            true,
		RespectDNT:          true,
		MaxEventsPerSession: 5000,
		SessionTimeout:      30 * time.Minute,
		QueryAllowlist:      slices.Clone(DefaultQueryAllowlist),
		ScrollMilestones:    []int{25, 50, 75, 90, 100},
		Transport: Transport{
			BatchSize:      50,
			BatchTimeout:   time.Second,
			MaxRetries:     3,
			BaseBackoff:    200 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			BeaconMaxBytes: 64000,
			RequestTimeout: 10 * time.Second,
		},
	}
}

type TransportOverrides struct {
	BatchSize      *int
	BatchTimeout   *time.Duration
	MaxRetries     *int
	BaseBackoff    *time.Duration
	MaxBackoff     *time.Duration
	BeaconMaxBytes *int
	RequestTimeout *time.Duration
}

// SDKOverrides is a partial SDK. Nil fields keep the current value.
type SDKOverrides struct {
	ProjectKey          *string
	APIURL              *string
	MaskText            *bool
	RespectDNT          *bool
	Debug               *bool
	MaxEventsPerSession *int
	SessionTimeout      *time.Duration
	QueryAllowlist      []string
	ScrollMilestones    []int
	Transport           *TransportOverrides
}

func Ptr[T any](v T) *T { return &v }

// Merge overlays o on s. Non-positive numeric results fall back to the
// defaults, the same way an unset key would.
func (s SDK) Merge(o SDKOverrides) SDK {
	out := s
	out.QueryAllowlist = slices.Clone(s.QueryAllowlist)
	out.ScrollMilestones = slices.Clone(s.ScrollMilestones)

	setIf(&out.ProjectKey, o.ProjectKey)
	setIf(&out.APIURL, o.APIURL)
	setIf(&out.MaskText, o.MaskText)
	setIf(&out.RespectDNT, o.RespectDNT)
	setIf(&out.Debug, o.Debug)
	setIf(&out.MaxEventsPerSession, o.MaxEventsPerSession)
	setIf(&out.SessionTimeout, o.SessionTimeout)
	if o.QueryAllowlist != nil {
		out.QueryAllowlist = slices.Clone(o.QueryAllowlist)
	}
	if o.ScrollMilestones != nil {
		out.ScrollMilestones = slices.Clone(o.ScrollMilestones)
	}
	if t := o.Transport; t != nil {
		setIf(&out.Transport.BatchSize, t.BatchSize)
		setIf(&out.Transport.BatchTimeout, t.BatchTimeout)
		setIf(&out.Transport.MaxRetries, t.MaxRetries)
		setIf(&out.Transport.BaseBackoff, t.BaseBackoff)
		setIf(&out.Transport.MaxBackoff, t.MaxBackoff)
		setIf(&out.Transport.BeaconMaxBytes, t.BeaconMaxBytes)
		setIf(&out.Transport.RequestTimeout, t.RequestTimeout)
	}
	out.fillDefaults()
	return out
}

func (s *SDK) fillDefaults() {
	d := DefaultSDK()
	s.APIURL = strings.TrimRight(strings.TrimSpace(s.APIURL), "/")
	if s.APIURL == "" {
		s.APIURL = d.APIURL
	}
	if s.MaxEventsPerSession <= 0 {
		s.MaxEventsPerSession = d.MaxEventsPerSession
	}
	if s.SessionTimeout <= 0 {
		s.SessionTimeout = d.SessionTimeout
	}
	if len(s.ScrollMilestones) == 0 {
		s.ScrollMilestones = d.ScrollMilestones
	}
	if s.Transport.BatchSize <= 0 {
		s.Transport.BatchSize = d.Transport.BatchSize
	}
	if s.Transport.BatchTimeout <= 0 {
		s.Transport.BatchTimeout = d.Transport.BatchTimeout
	}
	if s.Transport.MaxRetries < 0 {
		s.Transport.MaxRetries = d.Transport.MaxRetries
	}
	if s.Transport.BaseBackoff <= 0 {
		s.Transport.BaseBackoff = d.Transport.BaseBackoff
	}
	if s.Transport.MaxBackoff < s.Transport.BaseBackoff {
		s.Transport.MaxBackoff = max(d.Transport.MaxBackoff, s.Transport.BaseBackoff)
	}
	if s.Transport.BeaconMaxBytes <= 0 {
		s.Transport.BeaconMaxBytes = d.Transport.BeaconMaxBytes
	}
	if s.Transport.RequestTimeout <= 0 {
		s.Transport.RequestTimeout = d.Transport.RequestTimeout
	}
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Store is the read-mostly configuration surface shared by the SDK
// components. Readers get an immutable snapshot.
type Store struct {
	mu  sync.Mutex
	cur atomic.Pointer[SDK]
}

func NewStore(o SDKOverrides) *Store {
	s := &Store{}
	merged := DefaultSDK().Merge(o)
	s.cur.Store(&merged)
	return s
}

func (s *Store) Snapshot() SDK {
	return *s.cur.Load()
}

func (s *Store) Update(o SDKOverrides) SDK {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.cur.Load().Merge(o)
	s.cur.Store(&merged)
	return merged
}

// LoadSDKOverrides reads TAPISTRY_* variables from the environment.
func LoadSDKOverrides() (SDKOverrides, []Problem) {
	var o SDKOverrides
	var t TransportOverrides
	problems := make([]Problem, 0, 2)

	if v := strings.TrimSpace(os.Getenv("TAPISTRY_PROJECT_KEY")); v != "" {
		o.ProjectKey = Ptr(v)
	}
	if v := strings.TrimSpace(os.Getenv("TAPISTRY_API_URL")); v != "" {
		o.APIURL = Ptr(v)
	}
	o.MaskText = envBool("TAPISTRY_MASK_TEXT", &problems)
	o.RespectDNT = envBool("TAPISTRY_RESPECT_DNT", &problems)
	o.Debug = envBool("TAPISTRY_DEBUG", &problems)
	o.MaxEventsPerSession = envInt("TAPISTRY_MAX_EVENTS_PER_SESSION", &problems)
	o.SessionTimeout = envMillis("TAPISTRY_SESSION_TIMEOUT_MS", &problems)
	if v := strings.TrimSpace(os.Getenv("TAPISTRY_QUERY_ALLOWLIST")); v != "" {
		o.QueryAllowlist = parseCSV(v)
	}

	t.BatchSize = envInt("TAPISTRY_BATCH_SIZE", &problems)
	t.BatchTimeout = envMillis("TAPISTRY_BATCH_TIMEOUT_MS", &problems)
	t.MaxRetries = envInt("TAPISTRY_MAX_RETRIES", &problems)
	t.BeaconMaxBytes = envInt("TAPISTRY_BEACON_MAX_BYTES", &problems)
	t.RequestTimeout = envMillis("TAPISTRY_REQUEST_TIMEOUT_MS", &problems)
	if t != (TransportOverrides{}) {
		o.Transport = &t
	}
	return o, problems
}

func envInt(key string, problems *[]Problem) *int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return nil
	}
	return &n
}

func envMillis(key string, problems *[]Problem) *time.Duration {
	n := envInt(key, problems)
	if n == nil {
		return nil
	}
	d := time.Duration(*n) * time.Millisecond
	return &d
}

func envBool(key string, problems *[]Problem) *bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return nil
	}
	return &b
}
