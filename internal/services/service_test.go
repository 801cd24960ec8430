package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/farmgate/services/orders/config"
	"example.com/farmgate/services/orders/internal/metrics"
	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/tracing"
	"example.com/farmgate/services/orders/internal/workflow"
)

// testUsers holds one seeded user per role the tests exercise
type testUsers struct {
	SuperAdmin  *models.User
	Manager     *models.User
	Procurement *models.User
	Finance     *models.User
	Requester   *models.User
	Vet         *models.User
	Stranger    *models.User
}

func newTestService(t *testing.T) (*OrderService, *gorm.DB, *testUsers) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.SetupModels(db))

	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	svc := NewOrderService(db, db, nil, nil, metrics.NewMetrics(), tracer, nil)

	users := &testUsers{
		SuperAdmin:  seedUser(t, db, "root", workflow.RoleSuperAdmin),
		Manager:     seedUser(t, db, "manager", workflow.RoleManager),
		Procurement: seedUser(t, db, "buyer", workflow.RoleProcurement),
		Finance:     seedUser(t, db, "treasurer", workflow.RoleFinanceManager),
		Requester:   seedUser(t, db, "farmhand", workflow.RoleOperator),
		Vet:         seedUser(t, db, "vet", workflow.RoleHeadVeterinary),
		Stranger:    seedUser(t, db, "bystander", workflow.RoleOperator),
	}
	return svc, db, users
}

func seedUser(t *testing.T, db *gorm.DB, username string, role workflow.Role) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Username: username,
		FullName: username + " test",
		Email:    username + "@farm.test",
		Role:     role,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func testCreateInput() CreateOrderInput {
	return CreateOrderInput{
		OrderType:     workflow.TypeMedicine,
		Title:         "Ivermectin restock",
		Description:   "Quarterly dewormer restock",
		Quantity:      20,
		Unit:          "bottles",
		Urgency:       workflow.UrgencyHigh,
		EstimatedCost: decimal.NewFromInt(450),
		Items: []ItemInput{
			{Name: "Ivermectin 500ml", Quantity: 12},
			{Name: "Disposable syringes", Quantity: 8, Unit: "boxes"},
		},
	}
}

// createTestOrder runs the create operation as the default requester
func createTestOrder(t *testing.T, svc *OrderService, users *testUsers) *models.Order {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), users.Requester, testCreateInput(), RequestContext{})
	require.NoError(t, err)
	return order
}

// approveTestOrder moves a pending order past the initial manager stage
func approveTestOrder(t *testing.T, svc *OrderService, users *testUsers, orderID uuid.UUID) *models.Order {
	t.Helper()
	order, err := svc.ManagerApprove(context.Background(), users.Manager, orderID,
		DecisionInput{Action: workflow.ActionApproved}, RequestContext{})
	require.NoError(t, err)
	return order
}

// testQuoteSet builds a two-supplier quote set covering the order items
func testQuoteSet(order *models.Order) QuoteSetInput {
	quoteFor := func(supplier string, amount int64, recommended bool) QuoteInput {
		q := QuoteInput{
			SupplierName:  supplier,
			QuotedAmount:  decimal.NewFromInt(amount),
			DeliveryTime:  "5 days",
			IsRecommended: recommended,
		}
		for i, item := range order.Items {
			price := decimal.NewFromInt(amount / int64(len(order.Items)))
			q.ItemQuotes = append(q.ItemQuotes, ItemQuoteInput{
				OrderItemID:  item.ID,
				UnitPrice:    &price,
				TotalPrice:   &price,
				Availability: fmt.Sprintf("in stock (%d)", i+1),
			})
		}
		return q
	}
	return QuoteSetInput{Quotes: []QuoteInput{
		quoteFor("AgroVet Supplies", 400, true),
		quoteFor("FarmChem Ltd", 440, false),
	}}
}

func ledgerByStage(t *testing.T, db *gorm.DB, orderID uuid.UUID) map[workflow.Stage]models.OrderApproval {
	t.Helper()
	var approvals []models.OrderApproval
	require.NoError(t, db.Where("order_id = ?", orderID).Find(&approvals).Error)
	ledger := make(map[workflow.Stage]models.OrderApproval, len(approvals))
	for _, a := range approvals {
		_, dup := ledger[a.Stage]
		require.False(t, dup, "ledger has more than one row for stage %s", a.Stage)
		ledger[a.Stage] = a
	}
	return ledger
}

func notificationsFor(t *testing.T, db *gorm.DB, recipientID uuid.UUID) []models.OrderNotification {
	t.Helper()
	var notifications []models.OrderNotification
	require.NoError(t, db.Where("recipient_id = ?", recipientID).Find(&notifications).Error)
	return notifications
}
