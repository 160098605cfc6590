// Package orders validates strangle order requests and routes them to the
// brokerage, or simulates them when no brokerage is configured.
package orders

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strangle_scanner/internal/broker"
	"github.com/eddiefleurent/strangle_scanner/internal/metrics"
	"github.com/eddiefleurent/strangle_scanner/internal/models"
)

// Submission modes reported in confirmations and metrics.
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// Config contains configuration for the order manager.
type Config struct {
	Tag         string
	MaxHistory  int
	CallTimeout time.Duration
}

// DefaultConfig is the default configuration for the order manager.
var DefaultConfig = Config{
	MaxHistory:  100,
	CallTimeout: 10 * time.Second,
}

// Confirmation is returned for every accepted order.
type Confirmation struct {
	SubmittedAt  time.Time    `json:"submitted_at"`
	Status       string       `json:"status"`
	OrderID      string       `json:"order_id"`
	Mode         string       `json:"mode"`
	Message      string       `json:"message"`
	BrokerStatus string       `json:"broker_status,omitempty"`
	Details      OrderDetails `json:"order_details"`
}

// Manager submits orders and remembers the most recent confirmations for the
// lifetime of the process.
type Manager struct {
	placer  broker.OrderPlacer
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	history []Confirmation
	config  Config
	mu      sync.Mutex
}

// NewManager creates a new order manager. A nil placer selects simulated mode.
func NewManager(placer broker.OrderPlacer, logger *logrus.Logger, m *metrics.Metrics, config ...Config) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultConfig.MaxHistory
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		placer:  placer,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		config:  cfg,
	}
}

// Live reports whether orders reach a brokerage.
func (m *Manager) Live() bool {
	return m.placer != nil
}

func (m *Manager) mode() string {
	if m.Live() {
		return ModeLive
	}
	return ModeSimulated
}

// Submit validates req and places or simulates it. Validation failures return
// a *models.ValidationError; brokerage failures a *models.ExternalFetchError.
func (m *Manager) Submit(ctx context.Context, req StrangleOrderRequest) (*Confirmation, error) {
	mode := m.mode()
	if err := req.Validate(); err != nil {
		m.metrics.OrderSubmitted(mode, "rejected")
		return nil, err
	}
	details := normalize(req)
	log := m.logger.WithFields(logrus.Fields{
		"symbol":   details.Symbol,
		"quantity": details.Quantity,
		"mode":     mode,
	})

	conf := Confirmation{
		SubmittedAt: m.now().UTC(),
		Status:      "success",
		Mode:        mode,
		Message:     "Order submitted successfully",
		Details:     details,
	}

	if m.Live() {
		resp, err := m.placeLive(ctx, details)
		if err != nil {
			m.metrics.OrderSubmitted(mode, "error")
			log.WithError(err).Error("Order placement failed")
			return nil, &models.ExternalFetchError{Op: "place_order", Symbol: details.Symbol, Err: err}
		}
		conf.OrderID = strconv.Itoa(resp.Order.ID)
		conf.BrokerStatus = resp.Order.Status
	} else {
		conf.OrderID = "sim-" + uuid.NewString()
		conf.Message = "Order simulated; no brokerage configured"
	}

	m.record(conf)
	m.metrics.OrderSubmitted(mode, "success")
	log.WithField("order_id", conf.OrderID).Info("Strangle order accepted")
	return &conf, nil
}

func (m *Manager) placeLive(ctx context.Context, d OrderDetails) (*broker.OrderResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.CallTimeout)
	defer cancel()

	order := broker.MultilegOrder{
		Symbol:    d.Symbol,
		OrderType: d.OrderType,
		Duration:  d.TimeInForce,
		Quantity:  d.Quantity,
		Tag:       m.config.Tag,
		Legs:      make([]broker.OrderLeg, len(d.Legs)),
	}
	if d.LimitPrice != nil {
		order.LimitPrice = *d.LimitPrice
	}
	for i, leg := range d.Legs {
		order.Legs[i] = broker.OrderLeg{OptionSymbol: leg.OptionSymbol, Side: leg.Side}
	}
	return m.placer.PlaceMultilegOrder(callCtx, order)
}

func (m *Manager) record(c Confirmation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, c)
	if over := len(m.history) - m.config.MaxHistory; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
}

// Orders returns the retained confirmations, oldest first.
func (m *Manager) Orders() []Confirmation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Confirmation, len(m.history))
	copy(out, m.history)
	return out
}
