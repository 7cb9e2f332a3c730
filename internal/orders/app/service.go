package app

import (
	"context"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/app/queries"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// Service bundles the order use cases behind one entry point for transports.
// Every command goes through the observable decorator.
type Service struct {
	idemStore ports.IdempotencyStore
	unpaidTTL time.Duration
	now       func() time.Time

	createOrder          commands.CommandHandler[commands.CreateOrderCommand]
	confirmOrder         commands.CommandHandler[commands.ConfirmOrderCommand]
	shipItems            commands.CommandHandler[commands.ShipItemsCommand]
	markDelivered        commands.CommandHandler[commands.MarkDeliveredCommand]
	cancelOrder          commands.CommandHandler[commands.CancelOrderCommand]
	requestReturn        commands.CommandHandler[commands.RequestReturnCommand]
	approveReturn        commands.CommandHandler[commands.ApproveReturnCommand]
	rejectReturn         commands.CommandHandler[commands.RejectReturnCommand]
	receiveReturn        commands.CommandHandler[commands.ReceiveReturnCommand]
	refundReturn         commands.CommandHandler[commands.RefundReturnCommand]
	reconcileReservation commands.CommandHandler[commands.ReconcileReservationCommand]

	getOrder    *queries.GetOrderQueryHandler
	listOrders  *queries.ListOrdersQueryHandler
	orderEvents *queries.OrderEventsQueryHandler
}

func observe[C commands.Command](h commands.CommandHandler[C], deps commands.Deps) commands.CommandHandler[C] {
	return commands.NewObservableCommandHandler[C](h, deps.Logger, deps.Metrics)
}

// NewService wires required dependencies.
func NewService(deps commands.Deps, idem ports.IdempotencyStore) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		idemStore: idem,
		unpaidTTL: deps.Policy.UnpaidTTL,
		now:       now,

		createOrder:          observe[commands.CreateOrderCommand](commands.NewCreateOrderCommandHandler(deps), deps),
		confirmOrder:         observe[commands.ConfirmOrderCommand](commands.NewConfirmOrderCommandHandler(deps), deps),
		shipItems:            observe[commands.ShipItemsCommand](commands.NewShipItemsCommandHandler(deps), deps),
		markDelivered:        observe[commands.MarkDeliveredCommand](commands.NewMarkDeliveredCommandHandler(deps), deps),
		cancelOrder:          observe[commands.CancelOrderCommand](commands.NewCancelOrderCommandHandler(deps), deps),
		requestReturn:        observe[commands.RequestReturnCommand](commands.NewRequestReturnCommandHandler(deps), deps),
		approveReturn:        observe[commands.ApproveReturnCommand](commands.NewApproveReturnCommandHandler(deps), deps),
		rejectReturn:         observe[commands.RejectReturnCommand](commands.NewRejectReturnCommandHandler(deps), deps),
		receiveReturn:        observe[commands.ReceiveReturnCommand](commands.NewReceiveReturnCommandHandler(deps), deps),
		refundReturn:         observe[commands.RefundReturnCommand](commands.NewRefundReturnCommandHandler(deps), deps),
		reconcileReservation: observe[commands.ReconcileReservationCommand](commands.NewReconcileReservationCommandHandler(deps), deps),

		getOrder:    queries.NewGetOrderQueryHandler(deps.Repo),
		listOrders:  queries.NewListOrdersQueryHandler(deps.Repo),
		orderEvents: queries.NewOrderEventsQueryHandler(deps.Repo),
	}
}

func (s *Service) CreateOrder(ctx context.Context, cmd commands.CreateOrderCommand) (*domain.Order, error) {
	return s.createOrder.Handle(ctx, cmd)
}

func (s *Service) ConfirmOrder(ctx context.Context, cmd commands.ConfirmOrderCommand) (*domain.Order, error) {
	return s.confirmOrder.Handle(ctx, cmd)
}

func (s *Service) ShipItems(ctx context.Context, cmd commands.ShipItemsCommand) (*domain.Order, error) {
	return s.shipItems.Handle(ctx, cmd)
}

func (s *Service) MarkDelivered(ctx context.Context, cmd commands.MarkDeliveredCommand) (*domain.Order, error) {
	return s.markDelivered.Handle(ctx, cmd)
}

func (s *Service) CancelOrder(ctx context.Context, cmd commands.CancelOrderCommand) (*domain.Order, error) {
	return s.cancelOrder.Handle(ctx, cmd)
}

func (s *Service) RequestReturn(ctx context.Context, cmd commands.RequestReturnCommand) (*domain.Order, error) {
	return s.requestReturn.Handle(ctx, cmd)
}

func (s *Service) ApproveReturn(ctx context.Context, cmd commands.ApproveReturnCommand) (*domain.Order, error) {
	return s.approveReturn.Handle(ctx, cmd)
}

func (s *Service) RejectReturn(ctx context.Context, cmd commands.RejectReturnCommand) (*domain.Order, error) {
	return s.rejectReturn.Handle(ctx, cmd)
}

func (s *Service) ReceiveReturn(ctx context.Context, cmd commands.ReceiveReturnCommand) (*domain.Order, error) {
	return s.receiveReturn.Handle(ctx, cmd)
}

func (s *Service) RefundReturn(ctx context.Context, cmd commands.RefundReturnCommand) (*domain.Order, error) {
	return s.refundReturn.Handle(ctx, cmd)
}

func (s *Service) ReconcileReservation(ctx context.Context, cmd commands.ReconcileReservationCommand) (*domain.Order, error) {
	return s.reconcileReservation.Handle(ctx, cmd)
}

// GetOrder retrieves an order by ID.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder.Handle(ctx, queries.GetOrderQuery{OrderID: id})
}

// ListOrders returns one page of orders matching the query.
func (s *Service) ListOrders(ctx context.Context, query queries.ListOrdersQuery) ([]*domain.Order, error) {
	return s.listOrders.Handle(ctx, query)
}

// ListExpiredUnpaid pages through orders whose payment is still outstanding
// after the unpaid TTL. PaymentStatus defaults to PENDING; the auto-cancel
// sweep also asks for FAILED.
func (s *Service) ListExpiredUnpaid(ctx context.Context, query queries.ListOrdersQuery) ([]*domain.Order, error) {
	cutoff := s.now().Add(-s.unpaidTTL)
	query.UpdatedBefore = &cutoff
	if query.PaymentStatus == "" {
		query.PaymentStatus = string(domain.PaymentPending)
	}
	return s.listOrders.Handle(ctx, query)
}

// OrderEvents returns an order's audit trail.
func (s *Service) OrderEvents(ctx context.Context, id string) ([]domain.Event, error) {
	return s.orderEvents.Handle(ctx, queries.OrderEventsQuery{OrderID: id})
}

// SaveIdempotentResponse writes response details for a key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// GetIdempotentResponse retrieves previously stored response data.
func (s *Service) GetIdempotentResponse(ctx context.Context, key string) (*ports.StoredResponse, error) {
	return s.idemStore.Get(ctx, key)
}
