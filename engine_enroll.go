package fintsflow

import (
	"context"
	"fmt"

	"github.com/finwerk/fintsflow/internal/flows"
	"github.com/finwerk/fintsflow/pinvault"
)

// Enrollment stages as reported in [EnrollmentStatus.Stage].
const (
	StageSelectMechanism = flows.StageSelectMechanism
	StageSelectMedium    = flows.StageSelectMedium
	StageTANRequired     = flows.StageTANRequired
	StageDone            = flows.StageDone
)

// BeginEnrollment starts enrolling a bank login. The first dialog with the
// bank runs synchronously; when it completes without user input the returned
// status is already done. Otherwise the workflow suspends and the status
// carries a resume token plus whatever the bank asked for.
//
// The PIN must be the literal PIN; the cached-PIN sentinel is rejected since
// no cache entry can exist before the login is enrolled.
func (e *Engine) BeginEnrollment(ctx context.Context, req EnrollmentRequest) (*EnrollmentStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req.PIN == pinvault.CachedSentinel {
		return nil, fmt.Errorf("%w: enrollment requires the literal pin", ErrPrecondition)
	}

	tier := req.PINTier
	if tier == pinvault.TierNone {
		tier = pinvault.TierDecline
	}
	if tier == pinvault.TierResume {
		return nil, fmt.Errorf("%w: resume tier is workflow-internal", ErrPrecondition)
	}

	state, err := e.flows.BeginEnrollment(ctx, flows.EnrollBeginRequest{
		UserID:      req.UserID,
		BankCode:    req.BankCode,
		LoginName:   req.LoginName,
		PIN:         req.PIN,
		DisplayName: req.DisplayName,
		PINTier:     uint8(tier),
	})
	return enrollmentStatus(state), err
}

// EnrollmentStatus reports where a suspended enrollment stands without
// consuming the workflow.
func (e *Engine) EnrollmentStatus(ctx context.Context, token string) (*EnrollmentStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	state, err := e.flows.EnrollmentStatus(ctx, token)
	return enrollmentStatus(state), err
}

// EnrollSelectMechanism applies a TAN mechanism choice to a workflow suspended
// at [StageSelectMechanism] and advances it.
func (e *Engine) EnrollSelectMechanism(ctx context.Context, token, mechanismID string) (*EnrollmentStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	state, err := e.flows.EnrollSelectMechanism(ctx, token, mechanismID)
	return enrollmentStatus(state), err
}

// EnrollSelectMedium applies a TAN medium choice to a workflow suspended at
// [StageSelectMedium] and advances it.
func (e *Engine) EnrollSelectMedium(ctx context.Context, token, mediumName string) (*EnrollmentStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	state, err := e.flows.EnrollSelectMedium(ctx, token, mediumName)
	return enrollmentStatus(state), err
}

// EnrollSubmitTAN answers the TAN challenge of a workflow suspended at
// [StageTANRequired]. A rejected TAN returns [ErrAuthentication] together
// with a re-suspended status whose fresh token allows a retry.
func (e *Engine) EnrollSubmitTAN(ctx context.Context, token, tan string) (*EnrollmentStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	state, err := e.flows.EnrollSubmitTAN(ctx, token, tan)
	return enrollmentStatus(state), err
}

func enrollmentStatus(state *flows.EnrollState) *EnrollmentStatus {
	if state == nil {
		return nil
	}
	return &EnrollmentStatus{
		Token:             state.Token,
		Stage:             state.Stage,
		BankCode:          state.BankCode,
		LoginName:         state.LoginName,
		DisplayName:       state.DisplayName,
		Mechanisms:        state.Mechanisms,
		Media:             state.Media,
		SelectedMechanism: state.SelectedMechanism,
		SelectedMedium:    state.SelectedMedium,
		TANRequest:        state.TANRequest,
		UserLoginID:       state.UserLoginID,
		PINTier:           pinvault.Tier(state.PINTier),
		ExpiresAt:         state.ExpiresAt,
	}
}
