package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coursekit/booking-service/internal/domain"
	"github.com/coursekit/booking-service/internal/store"
	"github.com/coursekit/booking-service/pkg/checkout"
	"github.com/google/uuid"
)

// bookingRepoStub is an in-memory stand-in for the capacity store. ReserveSeats
// replicates the real conditional update under a mutex, so the concurrency test
// below exercises the same arbiter semantics the database enforces.
type bookingRepoStub struct {
	store.Repository

	mu     sync.Mutex
	course *domain.Course

	bookings  map[uuid.UUID]*domain.Booking
	createErr error

	releaseCalls  int
	releasedSeats int

	sessionWrites map[uuid.UUID]string
	sessionErr    error
}

func newBookingRepoStub(course *domain.Course) *bookingRepoStub {
	return &bookingRepoStub{
		course:        course,
		bookings:      make(map[uuid.UUID]*domain.Booking),
		sessionWrites: make(map[uuid.UUID]string),
	}
}

func (s *bookingRepoStub) FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.course == nil || s.course.ID != courseID {
		return nil, store.ErrCourseNotFound
	}
	snapshot := *s.course
	return &snapshot, nil
}

func (s *bookingRepoStub) ReserveSeats(ctx context.Context, courseID uuid.UUID, count int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.course == nil || s.course.ID != courseID {
		return false, nil
	}
	if s.course.Status != domain.CourseStatusActive {
		return false, nil
	}
	if s.course.CurrentParticipants+count > s.course.MaxParticipants {
		return false, nil
	}
	s.course.CurrentParticipants += count
	if s.course.CurrentParticipants >= s.course.MaxParticipants {
		s.course.Status = domain.CourseStatusFull
	}
	return true, nil
}

func (s *bookingRepoStub) ReleaseSeats(ctx context.Context, courseID uuid.UUID, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	s.releasedSeats += count
	s.course.CurrentParticipants -= count
	if s.course.CurrentParticipants < 0 {
		s.course.CurrentParticipants = 0
	}
	if s.course.Status == domain.CourseStatusFull && s.course.CurrentParticipants < s.course.MaxParticipants {
		s.course.Status = domain.CourseStatusActive
	}
	return nil
}

func (s *bookingRepoStub) CreateBooking(ctx context.Context, booking *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.bookings[booking.ID] = booking
	return nil
}

func (s *bookingRepoStub) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, store.ErrBookingNotFound
	}
	snapshot := *booking
	return &snapshot, nil
}

func (s *bookingRepoStub) SetBookingCheckoutSession(ctx context.Context, bookingID uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionErr != nil {
		return s.sessionErr
	}
	s.sessionWrites[bookingID] = sessionID
	return nil
}

// MarkBookingFailedAndRelease mirrors the store transaction: the guarded failed
// transition leaves booking_status at pending, and the release applies the same
// accounting as ReleaseSeats, including the full-to-active revert.
func (s *bookingRepoStub) MarkBookingFailedAndRelease(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok || booking.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	booking.PaymentStatus = domain.PaymentStatusFailed
	s.releaseCalls++
	s.releasedSeats += booking.Participants
	s.course.CurrentParticipants -= booking.Participants
	if s.course.CurrentParticipants < 0 {
		s.course.CurrentParticipants = 0
	}
	if s.course.Status == domain.CourseStatusFull && s.course.CurrentParticipants < s.course.MaxParticipants {
		s.course.Status = domain.CourseStatusActive
	}
	return true, nil
}

type checkoutClientStub struct {
	session    *checkout.Session
	err        error
	lastParams checkout.SessionParams
	calls      int
}

func (c *checkoutClientStub) CreateCheckoutSession(ctx context.Context, params checkout.SessionParams) (*checkout.Session, error) {
	c.calls++
	c.lastParams = params
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

type rateLimiterStub struct {
	count      int
	retryAfter int
	err        error
}

func (r *rateLimiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return r.count, r.retryAfter, r.err
}

func activeCourse(price int64, maxParticipants int) *domain.Course {
	return &domain.Course{
		ID:              uuid.New(),
		Title:           "Beginner Sailing",
		Price:           price,
		MaxParticipants: maxParticipants,
		Status:          domain.CourseStatusActive,
	}
}

func newTestService(repo store.Repository, client CheckoutClient) *Service {
	return NewService(repo, client, &publisherStub{}, "test.events", "sek", "https://example.com/success", "https://example.com/cancel", time.Second)
}

func validRequest(courseID uuid.UUID, participants int) domain.CreateBookingRequest {
	return domain.CreateBookingRequest{
		CourseID:      courseID,
		CustomerName:  "Maja Lind",
		CustomerEmail: "maja@example.com",
		Participants:  participants,
	}
}

func TestCreateBooking_ValidationErrors(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})

	cases := []struct {
		name string
		req  domain.CreateBookingRequest
	}{
		{"missing course id", domain.CreateBookingRequest{CustomerName: "A", CustomerEmail: "a@example.com", Participants: 1}},
		{"zero participants", validRequestWith(repo.course.ID, func(r *domain.CreateBookingRequest) { r.Participants = 0 })},
		{"negative participants", validRequestWith(repo.course.ID, func(r *domain.CreateBookingRequest) { r.Participants = -2 })},
		{"missing name", validRequestWith(repo.course.ID, func(r *domain.CreateBookingRequest) { r.CustomerName = "  " })},
		{"missing email", validRequestWith(repo.course.ID, func(r *domain.CreateBookingRequest) { r.CustomerEmail = "" })},
		{"malformed email", validRequestWith(repo.course.ID, func(r *domain.CreateBookingRequest) { r.CustomerEmail = "not-an-email" })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.CreateBooking(context.Background(), tc.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	if repo.course.CurrentParticipants != 0 {
		t.Fatalf("invalid requests must never reserve seats, got %d", repo.course.CurrentParticipants)
	}
}

func validRequestWith(courseID uuid.UUID, mutate func(*domain.CreateBookingRequest)) domain.CreateBookingRequest {
	req := validRequest(courseID, 1)
	mutate(&req)
	return req
}

func TestCreateBooking_UnknownCourse(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})

	_, err := service.CreateBooking(context.Background(), validRequest(uuid.New(), 1))
	if !errors.Is(err, store.ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}
}

func TestCreateBooking_ComputesTotalPriceFromCoursePrice(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 3))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}

	if booking.TotalPrice != 135000 {
		t.Fatalf("expected total price 135000, got %d", booking.TotalPrice)
	}
	if booking.PaymentStatus != domain.PaymentStatusPending || booking.BookingStatus != domain.BookingStatusPending {
		t.Fatalf("new booking must be pending/pending, got %s/%s", booking.PaymentStatus, booking.BookingStatus)
	}
	if repo.course.CurrentParticipants != 3 {
		t.Fatalf("expected 3 committed seats, got %d", repo.course.CurrentParticipants)
	}
}

func TestCreateBooking_TotalPriceUnaffectedByLaterPriceChange(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 2))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}

	repo.mu.Lock()
	repo.course.Price = 99000
	repo.mu.Unlock()

	persisted, err := repo.FindBookingByID(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("FindBookingByID returned error: %v", err)
	}
	if persisted.TotalPrice != 90000 {
		t.Fatalf("total price must be fixed at creation, got %d", persisted.TotalPrice)
	}
}

func TestCreateBooking_RequestExceedingRemainingCapacity(t *testing.T) {
	course := activeCourse(45000, 5)
	course.CurrentParticipants = 4
	repo := newBookingRepoStub(course)
	service := newTestService(repo, &checkoutClientStub{})

	_, err := service.CreateBooking(context.Background(), validRequest(course.ID, 2))
	if !errors.Is(err, ErrInsufficientCapacity) {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
	if repo.course.CurrentParticipants != 4 {
		t.Fatalf("refused reservation must not mutate capacity, got %d", repo.course.CurrentParticipants)
	}
}

func TestCreateBooking_CancelledCourseIsNotBookable(t *testing.T) {
	course := activeCourse(45000, 10)
	course.Status = domain.CourseStatusCancelled
	repo := newBookingRepoStub(course)
	service := newTestService(repo, &checkoutClientStub{})

	_, err := service.CreateBooking(context.Background(), validRequest(course.ID, 1))
	if !errors.Is(err, ErrCourseNotBookable) {
		t.Fatalf("expected ErrCourseNotBookable, got %v", err)
	}
}

func TestCreateBooking_LastSeatFlipsCourseToFull(t *testing.T) {
	course := activeCourse(45000, 2)
	course.CurrentParticipants = 1
	repo := newBookingRepoStub(course)
	service := newTestService(repo, &checkoutClientStub{})

	if _, err := service.CreateBooking(context.Background(), validRequest(course.ID, 1)); err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}
	if repo.course.Status != domain.CourseStatusFull {
		t.Fatalf("expected course to flip to full, got %s", repo.course.Status)
	}
}

func TestFailedSettlementRevertsFullCourseToActive(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 2))
	service := newTestService(repo, &checkoutClientStub{})

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 2))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}
	if repo.course.Status != domain.CourseStatusFull {
		t.Fatalf("expected course full after booking the last seats, got %s", repo.course.Status)
	}

	processor := NewSettlementProcessor(repo, &publisherStub{}, "test.events")
	err = processor.ProcessEvent(context.Background(), domain.CheckoutEvent{
		Type:      domain.CheckoutEventSessionExpired,
		BookingID: booking.ID.String(),
	})
	if err != nil {
		t.Fatalf("ProcessEvent returned error: %v", err)
	}

	if repo.course.Status != domain.CourseStatusActive {
		t.Fatalf("expected released course to revert to active, got %s", repo.course.Status)
	}
	if repo.course.CurrentParticipants != 0 {
		t.Fatalf("expected all seats handed back, got %d committed", repo.course.CurrentParticipants)
	}

	settled, err := repo.FindBookingByID(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("FindBookingByID returned error: %v", err)
	}
	if settled.PaymentStatus != domain.PaymentStatusFailed || settled.BookingStatus != domain.BookingStatusPending {
		t.Fatalf("expected failed/pending after expiry, got %s/%s", settled.PaymentStatus, settled.BookingStatus)
	}
}

func TestCreateBooking_PersistFailureReleasesReservedSeats(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	repo.createErr = errors.New("insert failed")
	service := newTestService(repo, &checkoutClientStub{})

	_, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 4))
	if err == nil {
		t.Fatal("expected error when booking persistence fails")
	}

	if repo.releaseCalls != 1 || repo.releasedSeats != 4 {
		t.Fatalf("expected one compensating release of 4 seats, got calls=%d seats=%d", repo.releaseCalls, repo.releasedSeats)
	}
	if repo.course.CurrentParticipants != 0 {
		t.Fatalf("capacity leaked after persist failure: %d seats still committed", repo.course.CurrentParticipants)
	}
}

func TestCreateBooking_NoOverbookingUnderConcurrentRequests(t *testing.T) {
	const maxParticipants = 10
	const attempts = 50

	repo := newBookingRepoStub(activeCourse(45000, maxParticipants))
	service := newTestService(repo, &checkoutClientStub{})

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 1))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, refused := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientCapacity), errors.Is(err, ErrCourseNotBookable):
			refused++
		default:
			t.Fatalf("unexpected error under contention: %v", err)
		}
	}

	if succeeded != maxParticipants {
		t.Fatalf("expected exactly %d successful bookings, got %d", maxParticipants, succeeded)
	}
	if refused != attempts-maxParticipants {
		t.Fatalf("expected %d refusals, got %d", attempts-maxParticipants, refused)
	}
	if repo.course.CurrentParticipants != maxParticipants {
		t.Fatalf("committed seats %d exceed or undershoot capacity %d", repo.course.CurrentParticipants, maxParticipants)
	}
	if len(repo.bookings) != maxParticipants {
		t.Fatalf("expected %d persisted bookings, got %d", maxParticipants, len(repo.bookings))
	}
}

func TestCreateBooking_RateLimited(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})
	service.SetBookingRateLimiter(&rateLimiterStub{count: 11, retryAfter: 42}, 10)

	_, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 1))

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry after 42s, got %d", rateErr.RetryAfterSeconds)
	}
	if repo.course.CurrentParticipants != 0 {
		t.Fatalf("throttled request must not reserve seats, got %d", repo.course.CurrentParticipants)
	}
}

func TestCreateBooking_RateLimiterOutageFailsOpen(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})
	service.SetBookingRateLimiter(&rateLimiterStub{err: errors.New("redis down")}, 10)

	if _, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 1)); err != nil {
		t.Fatalf("limiter outage must not block bookings, got %v", err)
	}
}

func TestStartCheckout_OpensSessionAndRecordsIt(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	client := &checkoutClientStub{session: &checkout.Session{ID: "cs_001", RedirectURL: "https://pay.example.com/cs_001"}}
	service := newTestService(repo, client)

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 2))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}

	resp, err := service.StartCheckout(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("StartCheckout returned error: %v", err)
	}

	if resp.RedirectURL != "https://pay.example.com/cs_001" {
		t.Fatalf("unexpected redirect url %q", resp.RedirectURL)
	}
	if client.lastParams.Amount != booking.TotalPrice {
		t.Fatalf("session amount %d does not match booking total %d", client.lastParams.Amount, booking.TotalPrice)
	}
	if client.lastParams.BookingID != booking.ID.String() {
		t.Fatalf("session must carry the booking id for correlation, got %q", client.lastParams.BookingID)
	}
	if repo.sessionWrites[booking.ID] != "cs_001" {
		t.Fatalf("session id not recorded on booking, got %q", repo.sessionWrites[booking.ID])
	}
}

func TestStartCheckout_PaidBookingIsRejected(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 1))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}
	repo.mu.Lock()
	repo.bookings[booking.ID].PaymentStatus = domain.PaymentStatusPaid
	repo.mu.Unlock()

	_, err = service.StartCheckout(context.Background(), booking.ID)
	if !errors.Is(err, ErrBookingAlreadySettled) {
		t.Fatalf("expected ErrBookingAlreadySettled, got %v", err)
	}
}

func TestStartCheckout_FailedBookingIsNotPayable(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 1))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}
	repo.mu.Lock()
	repo.bookings[booking.ID].PaymentStatus = domain.PaymentStatusFailed
	repo.mu.Unlock()

	_, err = service.StartCheckout(context.Background(), booking.ID)
	if !errors.Is(err, ErrBookingNotPayable) {
		t.Fatalf("expected ErrBookingNotPayable, got %v", err)
	}
}

func TestStartCheckout_ProviderOutage(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	client := &checkoutClientStub{err: errors.New("dial tcp: connection refused")}
	service := newTestService(repo, client)

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 1))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}

	_, err = service.StartCheckout(context.Background(), booking.ID)
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("provider cause should be preserved in the error, got %v", err)
	}
}

func TestGetBookingStatus(t *testing.T) {
	repo := newBookingRepoStub(activeCourse(45000, 10))
	service := newTestService(repo, &checkoutClientStub{})

	booking, err := service.CreateBooking(context.Background(), validRequest(repo.course.ID, 1))
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}

	status, err := service.GetBookingStatus(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("GetBookingStatus returned error: %v", err)
	}
	if status.PaymentStatus != domain.PaymentStatusPending || status.BookingStatus != domain.BookingStatusPending {
		t.Fatalf("unexpected status %s/%s", status.PaymentStatus, status.BookingStatus)
	}

	if _, err := service.GetBookingStatus(context.Background(), uuid.New()); !errors.Is(err, store.ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}
