package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// SimulatedConfig configures the Simulated handler
type SimulatedConfig struct {
	// SuccessRate is the probability in [0, 1] that a run succeeds
	SuccessRate float64
	// StepDuration is how long a run takes when the payload carries no delay
	StepDuration time.Duration
	// Seed makes outcomes reproducible; zero seeds from the clock
	Seed int64
}

// Simulated stands in for the browser automation scripts. It waits for the
// payload delay and then succeeds or fails at random.
type Simulated struct {
	config SimulatedConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a new Simulated handler
func NewSimulated(config SimulatedConfig) *Simulated {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

type simulatedResult struct {
	Product   string `json:"product"`
	Site      string `json:"site,omitempty"`
	Size      string `json:"size,omitempty"`
	Mode      string `json:"mode"`
	Quantity  int    `json:"quantity,omitempty"`
	Purchased bool   `json:"purchased"`
	InStock   bool   `json:"in_stock"`
}

// Handle implements Handler
func (s *Simulated) Handle(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	delay := time.Duration(job.Payload.DelayMS) * time.Millisecond
	if delay == 0 {
		delay = s.config.StepDuration
	}

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if !s.roll() {
		return nil, fmt.Errorf("automation run failed for product %s", job.Payload.ProductID)
	}

	mode := job.Payload.Mode
	if mode == "" {
		mode = domain.ModePurchase
	}

	return json.Marshal(simulatedResult{
		Product:   job.Payload.ProductID,
		Site:      job.Payload.Site,
		Size:      job.Payload.Size,
		Mode:      mode,
		Quantity:  job.Payload.Quantity,
		Purchased: mode == domain.ModePurchase && job.Payload.AutoPurchase,
		InStock:   true,
	})
}

func (s *Simulated) roll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.config.SuccessRate
}
