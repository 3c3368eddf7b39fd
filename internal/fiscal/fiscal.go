// internal/fiscal/fiscal.go
package fiscal

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Service transmits a fiscal document for a completed order. Generation runs
// after completion and is never a precondition for it.
type Service interface {
	Generate(ctx context.Context, orderID uuid.UUID) error
}

// LogService records the request in the process log; the real SAT
// transmission lives behind this boundary.
type LogService struct{}

func NewLogService() *LogService { return &LogService{} }

func (s *LogService) Generate(_ context.Context, orderID uuid.UUID) error {
	log.Printf("fiscal document requested for order %s", orderID)
	return nil
}
