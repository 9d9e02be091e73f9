package engine

import (
	"context"
	"time"

	"github.com/google/logger"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/liveauction/attest"
	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/notify"
	"github.com/cloudx-io/liveauction/storage"
)

// Clock is the engine's only source of "now". *clock.Clock satisfies it.
type Clock interface {
	Now() time.Time
	Stale() bool
}

// PaymentRequest asks the gateway to collect money. The result arrives
// asynchronously through Engine.HandlePaymentResult.
type PaymentRequest struct {
	Reference     string
	Kind          storage.PaymentKind
	AuctionID     string
	ParticipantID string
	Rank          int
	Amount        decimal.Decimal
}

// PaymentGateway starts payments.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req PaymentRequest) error
}

// Refunder returns money to participants.
type Refunder interface {
	IssueRefunds(ctx context.Context, auctionID string, participants []core.Participant) error
}

// Dispatcher delivers a transition at most once. *notify.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev notify.Event) (bool, error)
}

// WinnerAttester produces a proof for a resolved winner list.
type WinnerAttester interface {
	AttestWinners(record core.WinnerRecord) ([]byte, error)
}

// LogGateway accepts every payment request and only logs it. Results must be
// fed back by an operator or a test.
type LogGateway struct{}

func (LogGateway) InitiatePayment(_ context.Context, req PaymentRequest) error {
	logger.Infof("Payment %s requested: %s %s for auction %s participant %s",
		req.Reference, req.Kind, req.Amount.StringFixed(2), req.AuctionID, req.ParticipantID)
	return nil
}

// LogRefunder logs refunds instead of issuing them.
type LogRefunder struct{}

func (LogRefunder) IssueRefunds(_ context.Context, auctionID string, participants []core.Participant) error {
	for _, p := range participants {
		logger.Infof("Refund issued: auction %s participant %s", auctionID, p.UserID)
	}
	return nil
}

// EnclaveAttester attests winner lists with a Nitro enclave handle.
type EnclaveAttester struct {
	Enclave attest.Attester
}

func (a EnclaveAttester) AttestWinners(record core.WinnerRecord) ([]byte, error) {
	return attest.AttestWinners(a.Enclave, record)
}
