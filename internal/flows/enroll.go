package flows

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/finwerk/fintsflow/dialog"
	"github.com/finwerk/fintsflow/internal/stores"
	"github.com/finwerk/fintsflow/pinvault"
)

// Enrollment stages. A workflow suspends at a stage and the matching submit
// operation advances it; stages the bank makes unnecessary are skipped.
const (
	StageSelectMechanism = "select_mechanism"
	StageSelectMedium    = "select_medium"
	StageTANRequired     = "tan_required"
	StageDone            = "done"
)

// EnrollBeginRequest starts enrollment of one bank login for one user.
type EnrollBeginRequest struct {
	UserID      string
	BankCode    string
	LoginName   string
	PIN         string
	DisplayName string
	PINTier     uint8
}

// EnrollState is the caller-visible position of an enrollment workflow.
type EnrollState struct {
	Token string
	Stage string

	BankCode    string
	LoginName   string
	DisplayName string

	Mechanisms []dialog.TANMechanism
	Media      []string

	SelectedMechanism string
	SelectedMedium    string

	TANRequest *dialog.TANRequest

	// UserLoginID is set once the enrollment is complete.
	UserLoginID string

	PINTier   uint8
	ExpiresAt time.Time
}

// RunBeginEnrollment opens the first dialog with the bank and advances the
// workflow as far as it can without user input.
func RunBeginEnrollment(ctx context.Context, req EnrollBeginRequest, deps Deps) (state *EnrollState, err error) {
	if req.UserID == "" || req.BankCode == "" || req.LoginName == "" || req.PIN == "" {
		return nil, fmt.Errorf("%w: user id, bank code, login name and pin are required", deps.Errors.Precondition)
	}

	name, endpoint, err := deps.LookupBank(req.BankCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.NotFound, err)
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = name
	}

	loginKey := req.BankCode + ":" + req.LoginName
	if err := deps.CheckPINAttempts(ctx, loginKey); err != nil {
		return nil, err
	}

	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	deps.MetricInc(deps.Metrics.EnrollStarted)
	wid := deps.NewWorkflowID()
	defer func() {
		deps.EmitAudit(ctx, deps.Events.EnrollBegin, err == nil, req.UserID, "", wid, err)
	}()

	rec := &stores.WorkflowRecord{
		Kind:        stores.KindEnrollment,
		PINTier:     req.PINTier,
		UserID:      req.UserID,
		BankCode:    req.BankCode,
		LoginName:   req.LoginName,
		Endpoint:    endpoint,
		DisplayName: displayName,
	}

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	collect := &msgCollector{}
	sess, err := openSession(ctx, deps, scope, recordClientConfig(deps, rec, req.PIN, collect), nil, loginKey)
	if err != nil {
		return nil, err
	}

	return advanceEnrollment(ctx, deps, scope, sess, wid, rec, req.PIN, loginKey, collect)
}

// RunEnrollmentStatus reports the workflow position without consuming it.
func RunEnrollmentStatus(ctx context.Context, token string, deps Deps) (*EnrollState, error) {
	wid, err := deps.ParseToken(token, TokenKindEnroll)
	if err != nil {
		return nil, err
	}
	rec, err := deps.GetWorkflow(ctx, wid)
	if err != nil {
		return nil, err
	}
	if rec.Kind != stores.KindEnrollment {
		return nil, fmt.Errorf("%w: not an enrollment workflow", deps.Errors.WorkflowInvalid)
	}
	return enrollStateFromRecord(token, rec)
}

// RunEnrollSelectMechanism applies the user's TAN mechanism choice. The bank
// only honors the choice on a fresh dialog, so the paused dialog is resumed,
// closed and reopened with the mechanism set.
func RunEnrollSelectMechanism(ctx context.Context, token, mechanismID string, deps Deps) (state *EnrollState, err error) {
	wid, err := deps.ParseToken(token, TokenKindEnroll)
	if err != nil {
		return nil, err
	}
	defer func() {
		deps.EmitAudit(ctx, deps.Events.EnrollSelect, err == nil, "", "", wid, err)
	}()

	rec, err := deps.ConsumeWorkflow(ctx, wid)
	if err != nil {
		return nil, err
	}
	if rec.Kind != stores.KindEnrollment || rec.Stage != StageSelectMechanism {
		return nil, fmt.Errorf("%w: workflow not awaiting mechanism selection", deps.Errors.WorkflowInvalid)
	}

	var offered []dialog.TANMechanism
	if err := json.Unmarshal(rec.MechanismsJSON, &offered); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.WorkflowInvalid, err)
	}
	if !mechanismOffered(offered, mechanismID) {
		return nil, fmt.Errorf("%w: mechanism %q was not offered", deps.Errors.WorkflowInvalid, mechanismID)
	}

	loginKey := rec.BankCode + ":" + rec.LoginName
	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	collect := &msgCollector{}
	collect.load(rec)
	sess, pin, err := resumeSession(ctx, deps, scope, wid, rec, collect)
	if err != nil {
		return nil, err
	}

	rec.TANMechanism = mechanismID
	sess, err = reopenSession(ctx, deps, scope, sess, recordClientConfig(deps, rec, pin, collect), loginKey)
	if err != nil {
		return nil, err
	}

	return advanceEnrollment(ctx, deps, scope, sess, wid, rec, pin, loginKey, collect)
}

// RunEnrollSelectMedium applies the user's TAN medium choice.
func RunEnrollSelectMedium(ctx context.Context, token, mediumName string, deps Deps) (state *EnrollState, err error) {
	wid, err := deps.ParseToken(token, TokenKindEnroll)
	if err != nil {
		return nil, err
	}
	defer func() {
		deps.EmitAudit(ctx, deps.Events.EnrollSelect, err == nil, "", "", wid, err)
	}()

	rec, err := deps.ConsumeWorkflow(ctx, wid)
	if err != nil {
		return nil, err
	}
	if rec.Kind != stores.KindEnrollment || rec.Stage != StageSelectMedium {
		return nil, fmt.Errorf("%w: workflow not awaiting medium selection", deps.Errors.WorkflowInvalid)
	}

	var offered []string
	if err := json.Unmarshal(rec.MediaJSON, &offered); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.WorkflowInvalid, err)
	}
	if !mediumOffered(offered, mediumName) {
		return nil, fmt.Errorf("%w: medium %q was not offered", deps.Errors.WorkflowInvalid, mediumName)
	}

	loginKey := rec.BankCode + ":" + rec.LoginName
	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	collect := &msgCollector{}
	collect.load(rec)
	sess, pin, err := resumeSession(ctx, deps, scope, wid, rec, collect)
	if err != nil {
		return nil, err
	}

	rec.TANMedium = mediumName
	sess, err = reopenSession(ctx, deps, scope, sess, recordClientConfig(deps, rec, pin, collect), loginKey)
	if err != nil {
		return nil, err
	}

	return advanceEnrollment(ctx, deps, scope, sess, wid, rec, pin, loginKey, collect)
}

// RunEnrollSubmitTAN answers the dialog-initialization TAN challenge. A
// rejected TAN re-suspends the workflow under a fresh token so the caller can
// retry.
func RunEnrollSubmitTAN(ctx context.Context, token, tan string, deps Deps) (state *EnrollState, err error) {
	wid, err := deps.ParseToken(token, TokenKindEnroll)
	if err != nil {
		return nil, err
	}
	defer func() {
		deps.EmitAudit(ctx, deps.Events.EnrollTAN, err == nil, "", "", wid, err)
	}()

	rec, err := deps.ConsumeWorkflow(ctx, wid)
	if err != nil {
		return nil, err
	}
	if rec.Kind != stores.KindEnrollment || rec.Stage != StageTANRequired {
		return nil, fmt.Errorf("%w: workflow not awaiting a tan", deps.Errors.WorkflowInvalid)
	}

	var tanReq dialog.TANRequest
	if err := json.Unmarshal(rec.InitTANJSON, &tanReq); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.WorkflowInvalid, err)
	}

	loginKey := rec.BankCode + ":" + rec.LoginName
	release, err := deps.AcquireLock(ctx, loginKey)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	scope := dialog.NewScope(deps.OnLeak)
	scope.Enter()
	defer func() { _ = scope.Leave(ctx) }()

	collect := &msgCollector{}
	collect.load(rec)
	sess, pin, err := resumeSession(ctx, deps, scope, wid, rec, collect)
	if err != nil {
		return nil, err
	}

	result, err := sess.Client().SendTAN(ctx, &tanReq, tan)
	if err != nil {
		deps.MetricInc(deps.Metrics.TANFailed)
		abandonSession(ctx, deps, sess)
		return nil, mapClientError(deps, err)
	}
	if result != nil && result.Status == dialog.StatusError {
		deps.MetricInc(deps.Metrics.TANFailed)
		state, serr := suspendEnrollment(ctx, deps, sess, wid, pin, rec, collect)
		if serr != nil {
			return nil, serr
		}
		return state, fmt.Errorf("%w: bank rejected the tan", deps.Errors.Authentication)
	}

	deps.MetricInc(deps.Metrics.TANConfirmed)
	rec.InitTANJSON = nil
	return advanceEnrollment(ctx, deps, scope, sess, wid, rec, pin, loginKey, collect)
}

// advanceEnrollment runs the workflow forward until it needs user input or
// completes. Single offers are chosen automatically.
func advanceEnrollment(ctx context.Context, deps Deps, scope *dialog.Scope, sess *dialog.Session, wid string, rec *stores.WorkflowRecord, pin, loginKey string, collect *msgCollector) (*EnrollState, error) {
	for {
		client := sess.Client()

		if rec.TANMechanism == "" {
			mechs, err := client.TANMechanisms(ctx)
			if err != nil {
				abandonSession(ctx, deps, sess)
				return nil, mapClientError(deps, err)
			}
			list := sortMechanisms(mechs)
			switch {
			case len(list) == 0:
				abandonSession(ctx, deps, sess)
				return nil, fmt.Errorf("%w: bank offered no tan mechanisms", deps.Errors.BankProtocol)
			case len(list) == 1:
				rec.TANMechanism = list[0].ID
				sess, err = reopenSession(ctx, deps, scope, sess, recordClientConfig(deps, rec, pin, collect), loginKey)
				if err != nil {
					return nil, err
				}
				continue
			default:
				if rec.MechanismsJSON, err = json.Marshal(list); err != nil {
					abandonSession(ctx, deps, sess)
					return nil, err
				}
				rec.Stage = StageSelectMechanism
				return suspendEnrollment(ctx, deps, sess, wid, pin, rec, collect)
			}
		}

		if client.IsTANMediumRequired() && rec.TANMedium == "" {
			media, err := client.TANMedia(ctx)
			if err != nil {
				abandonSession(ctx, deps, sess)
				return nil, mapClientError(deps, err)
			}
			names := make([]string, 0, len(media))
			for _, m := range media {
				names = append(names, m.Name)
			}
			sort.Strings(names)
			if rec.MediaJSON, err = json.Marshal(names); err != nil {
				abandonSession(ctx, deps, sess)
				return nil, err
			}
			switch {
			case len(names) == 0:
				abandonSession(ctx, deps, sess)
				return nil, fmt.Errorf("%w: tan medium required but none enrolled", deps.Errors.BankProtocol)
			case len(names) == 1:
				rec.TANMedium = names[0]
				sess, err = reopenSession(ctx, deps, scope, sess, recordClientConfig(deps, rec, pin, collect), loginKey)
				if err != nil {
					return nil, err
				}
				continue
			default:
				rec.Stage = StageSelectMedium
				return suspendEnrollment(ctx, deps, sess, wid, pin, rec, collect)
			}
		}

		if tanReq := sess.InitTANRequest(); tanReq != nil {
			data, err := json.Marshal(tanReq)
			if err != nil {
				abandonSession(ctx, deps, sess)
				return nil, err
			}
			rec.InitTANJSON = data
			rec.Stage = StageTANRequired
			deps.MetricInc(deps.Metrics.TANRequested)
			return suspendEnrollment(ctx, deps, sess, wid, pin, rec, collect)
		}

		return finalizeEnrollment(ctx, deps, sess, wid, rec, pin, collect)
	}
}

// finalizeEnrollment persists the enrolled login, synchronizes accounts,
// closes the dialog and caches the PIN per the chosen tier.
func finalizeEnrollment(ctx context.Context, deps Deps, sess *dialog.Session, wid string, rec *stores.WorkflowRecord, pin string, collect *msgCollector) (*EnrollState, error) {
	client := sess.Client()

	bl, err := deps.FindBankLoginByCode(ctx, rec.BankCode)
	if err != nil {
		if !deps.IsNotFound(err) {
			abandonSession(ctx, deps, sess)
			return nil, err
		}
		name := rec.DisplayName
		if info, ierr := client.Information(ctx); ierr == nil && info.BankName != "" {
			name = info.BankName
		}
		bl = &BankLoginRec{ID: deps.NewID(), BankCode: rec.BankCode, Name: name, Endpoint: rec.Endpoint}
		if err := deps.CreateBankLogin(ctx, bl); err != nil {
			abandonSession(ctx, deps, sess)
			return nil, err
		}
	}
	rec.BankLoginID = bl.ID

	var media []string
	if len(rec.MediaJSON) != 0 {
		_ = json.Unmarshal(rec.MediaJSON, &media)
	}

	ul := &UserLoginRec{
		ID:           deps.NewID(),
		BankLoginID:  bl.ID,
		UserID:       rec.UserID,
		LoginName:    rec.LoginName,
		DisplayName:  rec.DisplayName,
		TANMechanism: rec.TANMechanism,
		TANMedium:    rec.TANMedium,
		TANMedia:     media,
	}
	if err := deps.CreateUserLogin(ctx, ul); err != nil {
		abandonSession(ctx, deps, sess)
		return nil, err
	}

	if _, err := syncAccounts(ctx, deps, sess, ul.ID); err != nil {
		abandonSession(ctx, deps, sess)
		return nil, err
	}

	blob, err := closeWithSnapshot(ctx, deps, sess)
	if err != nil {
		return nil, err
	}
	if err := persistSnapshot(ctx, deps, ul, blob); err != nil {
		return nil, err
	}
	collect.flush(ctx, deps, ul.ID)

	tier := pinvault.Tier(rec.PINTier)
	if tier == pinvault.TierSession || tier == pinvault.TierPersistent {
		if err := deps.CachePIN(ctx, pinLabel(rec.UserID, bl.ID), pin, rec.PINTier); err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.PINCached)
	}

	_ = deps.PurgeWorkflowPIN(ctx, wid)
	_ = deps.DeleteWorkflow(ctx, wid)
	deps.MetricInc(deps.Metrics.EnrollCompleted)
	deps.EmitAudit(ctx, deps.Events.EnrollComplete, true, rec.UserID, ul.ID, wid, nil)

	return &EnrollState{
		Stage:             StageDone,
		BankCode:          rec.BankCode,
		LoginName:         rec.LoginName,
		DisplayName:       rec.DisplayName,
		SelectedMechanism: rec.TANMechanism,
		SelectedMedium:    rec.TANMedium,
		UserLoginID:       ul.ID,
		PINTier:           rec.PINTier,
	}, nil
}

func suspendEnrollment(ctx context.Context, deps Deps, sess *dialog.Session, oldWid, pin string, rec *stores.WorkflowRecord, collect *msgCollector) (*EnrollState, error) {
	if err := collect.save(rec); err != nil {
		abandonSession(ctx, deps, sess)
		return nil, err
	}
	token, expiresAt, err := suspendWorkflow(ctx, deps, sess, oldWid, pin, rec)
	if err != nil {
		return nil, err
	}
	state, err := enrollStateFromRecord(token, rec)
	if err != nil {
		return nil, err
	}
	state.ExpiresAt = expiresAt
	return state, nil
}

func enrollStateFromRecord(token string, rec *stores.WorkflowRecord) (*EnrollState, error) {
	state := &EnrollState{
		Token:             token,
		Stage:             rec.Stage,
		BankCode:          rec.BankCode,
		LoginName:         rec.LoginName,
		DisplayName:       rec.DisplayName,
		SelectedMechanism: rec.TANMechanism,
		SelectedMedium:    rec.TANMedium,
		PINTier:           rec.PINTier,
		ExpiresAt:         time.Unix(rec.ExpiresAt, 0),
	}
	if len(rec.MechanismsJSON) != 0 {
		if err := json.Unmarshal(rec.MechanismsJSON, &state.Mechanisms); err != nil {
			return nil, err
		}
	}
	if len(rec.MediaJSON) != 0 {
		if err := json.Unmarshal(rec.MediaJSON, &state.Media); err != nil {
			return nil, err
		}
	}
	if rec.Stage == StageTANRequired && len(rec.InitTANJSON) != 0 {
		state.TANRequest = &dialog.TANRequest{}
		if err := json.Unmarshal(rec.InitTANJSON, state.TANRequest); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func sortMechanisms(mechs map[string]dialog.TANMechanism) []dialog.TANMechanism {
	list := make([]dialog.TANMechanism, 0, len(mechs))
	for _, m := range mechs {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func mechanismOffered(offered []dialog.TANMechanism, id string) bool {
	for _, m := range offered {
		if m.ID == id {
			return true
		}
	}
	return false
}

func mediumOffered(offered []string, name string) bool {
	for _, n := range offered {
		if n == name {
			return true
		}
	}
	return false
}
