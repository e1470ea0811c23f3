package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/adashe/tontine-service/internal/domain"
	"github.com/adashe/tontine-service/internal/store"
)

type lifecycleRepoStub struct {
	store.Repository

	group       *domain.Group
	reporter    *domain.Member
	activation  *store.ActivationResult
	cascade     *store.CancelCascadeResult
	cascadeErr  error
	activateErr error

	transitionCalled bool
	transitionFrom   string
	transitionTo     string
	transitionReason *string

	cascadeCalled bool
	cascadeParams store.CancelCascadeParams

	pendingRefunds int
	countedGroupID uuid.UUID
}

func (s *lifecycleRepoStub) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	if s.group == nil {
		return nil, store.ErrGroupNotFound
	}
	return s.group, nil
}

func (s *lifecycleRepoStub) FindMemberByUserID(ctx context.Context, groupID, userID uuid.UUID) (*domain.Member, error) {
	if s.reporter == nil {
		return nil, store.ErrMemberNotFound
	}
	return s.reporter, nil
}

func (s *lifecycleRepoStub) ActivateGroup(ctx context.Context, groupID uuid.UUID) (*store.ActivationResult, error) {
	if s.activateErr != nil {
		return nil, s.activateErr
	}
	return s.activation, nil
}

func (s *lifecycleRepoStub) TransitionGroupStatus(ctx context.Context, groupID uuid.UUID, from, to string, reason *string) error {
	s.transitionCalled = true
	s.transitionFrom = from
	s.transitionTo = to
	s.transitionReason = reason
	return nil
}

func (s *lifecycleRepoStub) CancelGroupCascade(ctx context.Context, params store.CancelCascadeParams) (*store.CancelCascadeResult, error) {
	s.cascadeCalled = true
	s.cascadeParams = params
	if s.cascadeErr != nil {
		return nil, s.cascadeErr
	}
	return s.cascade, nil
}

func (s *lifecycleRepoStub) CountPendingRefundJobs(ctx context.Context, groupID uuid.UUID) (int, error) {
	s.countedGroupID = groupID
	return s.pendingRefunds, nil
}

func TestActivateGroup_OrganizerOnly(t *testing.T) {
	repo := &lifecycleRepoStub{
		group: &domain.Group{ID: uuid.New(), OrganizerUserID: uuid.New(), Status: domain.GroupStatusDraft},
	}
	svc := NewService(repo, nil, &publisherStub{}, "XOF", 0)

	_, err := svc.ActivateGroup(context.Background(), uuid.New(), repo.group.ID)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for a non-organizer, got %v", err)
	}
}

func TestActivateGroup_PublishesActivationAndFirstTurn(t *testing.T) {
	organizerID := uuid.New()
	groupID := uuid.New()
	opened := &domain.Turn{ID: uuid.New(), Sequence: 1, BeneficiaryMemberID: uuid.New(), PotAmount: 15000}
	repo := &lifecycleRepoStub{
		group: &domain.Group{ID: groupID, OrganizerUserID: organizerID, Status: domain.GroupStatusDraft},
		activation: &store.ActivationResult{
			Group:      &domain.Group{ID: groupID, Status: domain.GroupStatusActive},
			Turns:      []domain.Turn{*opened},
			OpenedTurn: opened,
		},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	result, err := svc.ActivateGroup(context.Background(), organizerID, groupID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.OpenedTurn == nil || result.OpenedTurn.ID != opened.ID {
		t.Fatal("expected the first turn to be opened")
	}

	keys := producer.routingKeys()
	if len(keys) != 2 || keys[0] != domain.EventGroupActivated || keys[1] != domain.EventTurnOpened {
		t.Fatalf("expected group.activated then turn.opened, got %v", keys)
	}
	turnEvent, ok := producer.published[1].body.(domain.TurnOpenedEvent)
	if !ok {
		t.Fatalf("expected a turn opened event body, got %T", producer.published[1].body)
	}
	if turnEvent.PotAmount != 15000 {
		t.Fatalf("expected pot amount 15000 in turn event, got %d", turnEvent.PotAmount)
	}
}

func TestActivateGroup_PropagatesNotEnoughMembers(t *testing.T) {
	organizerID := uuid.New()
	repo := &lifecycleRepoStub{
		group:       &domain.Group{ID: uuid.New(), OrganizerUserID: organizerID, Status: domain.GroupStatusDraft},
		activateErr: store.ErrNotEnoughMembers,
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	_, err := svc.ActivateGroup(context.Background(), organizerID, repo.group.ID)
	if !errors.Is(err, store.ErrNotEnoughMembers) {
		t.Fatalf("expected ErrNotEnoughMembers, got %v", err)
	}
	if len(producer.published) != 0 {
		t.Fatalf("expected no events for a failed activation, got %v", producer.routingKeys())
	}
}

func TestCancelGroup_DraftFlipsDirectly(t *testing.T) {
	organizerID := uuid.New()
	groupID := uuid.New()
	repo := &lifecycleRepoStub{
		group: &domain.Group{ID: groupID, OrganizerUserID: organizerID, Status: domain.GroupStatusDraft},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	result, err := svc.CancelGroup(context.Background(), organizerID, groupID, "changed plans")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.transitionCalled {
		t.Fatal("expected a guarded status transition for a draft group")
	}
	if repo.transitionFrom != domain.GroupStatusDraft || repo.transitionTo != domain.GroupStatusCancelled {
		t.Fatalf("expected draft to cancelled transition, got %s to %s", repo.transitionFrom, repo.transitionTo)
	}
	if repo.cascadeCalled {
		t.Fatal("did not expect the cancellation cascade for a draft group")
	}
	if len(result.RefundJobs) != 0 {
		t.Fatalf("expected no refunds for a draft group, got %d", len(result.RefundJobs))
	}

	keys := producer.routingKeys()
	if len(keys) != 1 || keys[0] != domain.EventGroupCancelled {
		t.Fatalf("expected a single group.cancelled event, got %v", keys)
	}
}

func TestCancelGroup_ActiveRunsCascade(t *testing.T) {
	organizerID := uuid.New()
	groupID := uuid.New()
	repo := &lifecycleRepoStub{
		group: &domain.Group{ID: groupID, OrganizerUserID: organizerID, Status: domain.GroupStatusActive},
		cascade: &store.CancelCascadeResult{
			Group:          &domain.Group{ID: groupID, Status: domain.GroupStatusCancelled},
			CancelledTurns: 3,
			RefundJobs:     []domain.RefundJob{{ID: uuid.New()}, {ID: uuid.New()}},
		},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	result, err := svc.CancelGroup(context.Background(), organizerID, groupID, "")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.cascadeCalled {
		t.Fatal("expected the cancellation cascade for an active group")
	}
	if repo.cascadeParams.DefaulterMemberID != nil {
		t.Fatal("did not expect a defaulter for an organizer-initiated cancellation")
	}
	if repo.cascadeParams.Reason == "" {
		t.Fatal("expected a default cancellation reason to be filled in")
	}
	if len(result.RefundJobs) != 2 {
		t.Fatalf("expected 2 queued refunds, got %d", len(result.RefundJobs))
	}
}

func TestReportDefault_RequiresGroupMember(t *testing.T) {
	repo := &lifecycleRepoStub{
		group: &domain.Group{ID: uuid.New(), Status: domain.GroupStatusActive},
	}
	svc := NewService(repo, nil, &publisherStub{}, "XOF", 0)

	_, err := svc.ReportDefault(context.Background(), uuid.New(), repo.group.ID, uuid.New(), "")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for an outsider, got %v", err)
	}
	if repo.cascadeCalled {
		t.Fatal("did not expect the cascade to run for an unauthorized reporter")
	}
}

func TestReportDefault_CancelsGroupAndQueuesRefunds(t *testing.T) {
	reporterID := uuid.New()
	groupID := uuid.New()
	defaulterID := uuid.New()
	openTurnID := uuid.New()
	repo := &lifecycleRepoStub{
		group:    &domain.Group{ID: groupID, Status: domain.GroupStatusActive},
		reporter: &domain.Member{ID: uuid.New(), GroupID: groupID, UserID: reporterID},
		cascade: &store.CancelCascadeResult{
			Group:          &domain.Group{ID: groupID, Status: domain.GroupStatusCancelled},
			ExcludedMember: &domain.Member{ID: defaulterID, Status: domain.MemberStatusExcluded},
			OpenTurnID:     &openTurnID,
			CancelledTurns: 2,
			RefundJobs:     []domain.RefundJob{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}},
		},
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	result, err := svc.ReportDefault(context.Background(), reporterID, groupID, defaulterID, "missed two reminders")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if repo.cascadeParams.DefaulterMemberID == nil || *repo.cascadeParams.DefaulterMemberID != defaulterID {
		t.Fatal("expected the cascade to target the reported defaulter")
	}
	if result.ExcludedMember == nil || result.ExcludedMember.Status != domain.MemberStatusExcluded {
		t.Fatal("expected the defaulter to be excluded")
	}

	keys := producer.routingKeys()
	if len(keys) != 2 || keys[0] != domain.EventMemberDefaulted || keys[1] != domain.EventGroupCancelled {
		t.Fatalf("expected member.defaulted then group.cancelled, got %v", keys)
	}
	defaulted, ok := producer.published[0].body.(domain.MemberDefaultedEvent)
	if !ok {
		t.Fatalf("expected a member defaulted event body, got %T", producer.published[0].body)
	}
	if defaulted.RefundsQueued != 3 {
		t.Fatalf("expected 3 queued refunds in the event, got %d", defaulted.RefundsQueued)
	}
	if defaulted.TurnID != openTurnID {
		t.Fatalf("expected the open turn id in the event, got %s", defaulted.TurnID)
	}
}

func TestPendingRefunds_MembersOnly(t *testing.T) {
	repo := &lifecycleRepoStub{
		group:          &domain.Group{ID: uuid.New(), Status: domain.GroupStatusCancelled},
		pendingRefunds: 2,
	}
	svc := NewService(repo, nil, &publisherStub{}, "XOF", 0)

	_, err := svc.PendingRefunds(context.Background(), uuid.New(), repo.group.ID)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for an outsider, got %v", err)
	}
}

func TestPendingRefunds_ReportsOutboxDepth(t *testing.T) {
	requesterID := uuid.New()
	groupID := uuid.New()
	repo := &lifecycleRepoStub{
		group:          &domain.Group{ID: groupID, Status: domain.GroupStatusCancelled},
		reporter:       &domain.Member{ID: uuid.New(), GroupID: groupID, UserID: requesterID},
		pendingRefunds: 3,
	}
	svc := NewService(repo, nil, &publisherStub{}, "XOF", 0)

	pending, err := svc.PendingRefunds(context.Background(), requesterID, groupID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if pending != 3 {
		t.Fatalf("expected 3 pending refunds, got %d", pending)
	}
	if repo.countedGroupID != groupID {
		t.Fatalf("expected the count to target group %s, got %s", groupID, repo.countedGroupID)
	}
}

func TestReportDefault_PropagatesMissingObligation(t *testing.T) {
	reporterID := uuid.New()
	groupID := uuid.New()
	repo := &lifecycleRepoStub{
		group:      &domain.Group{ID: groupID, Status: domain.GroupStatusActive},
		reporter:   &domain.Member{ID: uuid.New(), GroupID: groupID, UserID: reporterID},
		cascadeErr: store.ErrNoObligation,
	}
	producer := &publisherStub{}
	svc := NewService(repo, nil, producer, "XOF", 0)

	_, err := svc.ReportDefault(context.Background(), reporterID, groupID, uuid.New(), "")
	if !errors.Is(err, store.ErrNoObligation) {
		t.Fatalf("expected ErrNoObligation, got %v", err)
	}
	if len(producer.published) != 0 {
		t.Fatalf("expected no events for a rejected report, got %v", producer.routingKeys())
	}
}
