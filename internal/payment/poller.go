package payment

import (
	"context"
	"log/slog"
	"time"

	paymentmodel "github.com/sunutaxe/payment-service/internal/core/datamodel/payment"
)

// Poller periodically refreshes the status of open payments from their
// providers. USSD payments confirm out of band, so a missed webhook would
// otherwise strand a payment in pending forever.
type Poller struct {
	service  ServiceAPI
	repo     RepositoryAPI
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewPoller(service ServiceAPI, repo RepositoryAPI, interval time.Duration, batch int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Poller{
		service:  service,
		repo:     repo,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("status poller started", "interval", p.interval, "batch", p.batch)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("status poller stopped")
			return
		case <-ticker.C:
			p.SweepOnce(ctx)
		}
	}
}

// SweepOnce refreshes one batch of open payments per open status. Errors on
// individual payments are logged and the sweep continues.
func (p *Poller) SweepOnce(ctx context.Context) {
	for _, status := range []paymentmodel.Status{paymentmodel.StatusPending, paymentmodel.StatusProcessing} {
		payments, err := p.repo.List("", status, 0, p.batch)
		if err != nil {
			p.logger.Error("poller failed to list payments", "status", status, "error", err)
			continue
		}

		for _, pm := range payments {
			if _, err := p.service.CheckStatus(ctx, pm.Provider, pm.ID); err != nil {
				p.logger.Error("poller status refresh failed",
					"payment_id", pm.ID,
					"provider", pm.Provider,
					"error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}
