package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Factory != nil
}

func (s Service) BeginEnrollment(ctx context.Context, req EnrollBeginRequest) (*EnrollState, error) {
	return RunBeginEnrollment(ctx, req, s.deps)
}

func (s Service) EnrollmentStatus(ctx context.Context, token string) (*EnrollState, error) {
	return RunEnrollmentStatus(ctx, token, s.deps)
}

func (s Service) EnrollSelectMechanism(ctx context.Context, token, mechanismID string) (*EnrollState, error) {
	return RunEnrollSelectMechanism(ctx, token, mechanismID, s.deps)
}

func (s Service) EnrollSelectMedium(ctx context.Context, token, mediumName string) (*EnrollState, error) {
	return RunEnrollSelectMedium(ctx, token, mediumName, s.deps)
}

func (s Service) EnrollSubmitTAN(ctx context.Context, token, tan string) (*EnrollState, error) {
	return RunEnrollSubmitTAN(ctx, token, tan, s.deps)
}

func (s Service) BeginTransfer(ctx context.Context, req TransferBeginRequest) (*TransferState, error) {
	return RunBeginTransfer(ctx, req, s.deps)
}

func (s Service) SubmitTransferTAN(ctx context.Context, token, tan string) (*TransferState, error) {
	return RunSubmitTransferTAN(ctx, token, tan, s.deps)
}

func (s Service) FetchTransactions(ctx context.Context, req StatementRequest) ([]TransactionRec, error) {
	return RunFetchTransactions(ctx, req, s.deps)
}

func (s Service) RefreshAccounts(ctx context.Context, userLoginID, pin string) ([]AccountRec, error) {
	return RunRefreshAccounts(ctx, userLoginID, pin, s.deps)
}
