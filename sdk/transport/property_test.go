package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tapistry/shared/config"
)

func propertyPipeline(t *testing.T, batchSize, capacity int, outcomes []bool) (*Pipeline, *scriptedDeliverer, func(time.Duration)) {
	results := make([]error, len(outcomes))
	for i, ok := range outcomes {
		if !ok {
			results[i] = errors.New("fail")
		}
	}
	d := &scriptedDeliverer{results: results}
	cfg := testConfig(config.SDKOverrides{
		MaxEventsPerSession: config.Ptr(capacity),
		Transport:           &config.TransportOverrides{BatchSize: config.Ptr(batchSize)},
	})
	p, clk := newTestPipeline(t, cfg, d, nil)
	p.newID = numberedIDs()
	p.Start()
	return p, d, clk.Advance
}

// Admitted events never exceed the session cap, and every admitted event is
// accounted for as delivered, abandoned or still queued.
func TestPropertySessionCap(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("admitted <= cap and no event is lost", prop.ForAll(
		func(n, capacity, batchSize int, outcomes []bool) bool {
			p, d, advance := propertyPipeline(t, batchSize, capacity, outcomes)
			for i := 0; i < n; i++ {
				p.Enqueue(click())
			}
			for i := 0; i < 20; i++ {
				advance(15 * time.Second)
			}
			st := p.Stats()
			delivered := 0
			for _, b := range d.delivered {
				delivered += len(b)
			}
			want := min(n, capacity)
			return st.Admitted == want && delivered+st.Abandoned+st.Queued == want
		},
		gen.IntRange(0, 80),
		gen.IntRange(1, 40),
		gen.IntRange(1, 10),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// Successful deliveries carry events in enqueue order, each at most once.
func TestPropertyOrderingWithoutDuplicates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("delivered ids strictly increase", prop.ForAll(
		func(n, batchSize int, outcomes []bool) bool {
			p, d, advance := propertyPipeline(t, batchSize, 5000, outcomes)
			for i := 0; i < n; i++ {
				p.Enqueue(click())
				if i%7 == 0 {
					advance(300 * time.Millisecond)
				}
			}
			for i := 0; i < 20; i++ {
				advance(15 * time.Second)
			}
			last := ""
			for _, b := range d.delivered {
				for _, id := range b {
					if id <= last {
						return false
					}
					last = id
				}
			}
			return true
		},
		gen.IntRange(0, 80),
		gen.IntRange(1, 10),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
