package router_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"checkout_system/lock"
	"checkout_system/metrics"
	"checkout_system/model"
	"checkout_system/repository"
	"checkout_system/service"
	"checkout_system/test"
	"checkout_system/web/middleware"
	"checkout_system/web/router"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type apiFixture struct {
	db       *gorm.DB
	engine   *gin.Engine
	events   *test.MockEventPublisher
	switcher *test.MockRedemptionSwitch
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := test.NewTestDB(t)
	_, client := test.NewTestRedis(t)
	test.CreateTestSeller(t, db, 10)
	test.CreateTestSeller(t, db, 20)
	test.CreateTestSku(t, db, 1001, 10, "100", true)
	test.CreateTestSku(t, db, 2001, 20, "200", true)

	f := &apiFixture{
		db:       db,
		events:   test.NewMockEventPublisher(),
		switcher: test.NewMockRedemptionSwitch(),
	}
	m := metrics.New(prometheus.NewRegistry())
	discounts := repository.NewDiscountRepository(db)
	catalog := repository.NewCatalogRepository(db)
	locks := lock.NewCoordinator(lock.NewMemoryLocker(), lock.DefaultPolicy(), lock.WithObserver(m.ObserveLock))
	f.engine = router.InitRouter(router.Deps{
		Checkout: service.NewCheckoutService(service.CheckoutDeps{
			Discounts:   discounts,
			Sellers:     catalog,
			Locks:       locks,
			Snapshots:   repository.NewSnapshotRepository(client),
			Events:      f.events,
			Switch:      f.switcher,
			Metrics:     m,
			ShipFee:     decimal.NewFromInt(30000),
			SnapshotTTL: 30 * time.Minute,
		}),
		Discounts: service.NewDiscountService(discounts, catalog, locks),
		Switch:    f.switcher,
		Metrics:   m,
	})
	return f
}

// do 发送请求，headers 依次为键值对
func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func user(id int64) []string {
	return []string{middleware.HeaderUserID, strconv.FormatInt(id, 10)}
}

func seller(userID, sellerID int64) []string {
	return append(user(userID), middleware.HeaderSellerID, strconv.FormatInt(sellerID, 10))
}

func admin(id int64) []string {
	return append(user(id), middleware.HeaderUserRole, middleware.RoleAdmin)
}

func discountBody(code string, percent int64) map[string]any {
	now := time.Now()
	return map[string]any{
		"name":     "Promo " + code,
		"code":     code,
		"type":     model.DiscountTypePercentage,
		"value":    decimal.NewFromInt(percent),
		"count":    5,
		"start_at": now.Add(-time.Hour),
		"end_at":   now.Add(time.Hour),
		"apply_to": model.ApplyToAll,
	}
}

func cartBody(sel service.Selections) map[string]any {
	return map[string]any{
		"groups": []model.CartShopGroup{
			test.CartGroup(10, test.CartLine{SkuID: 1001, Price: "100", Quantity: 2}),
			test.CartGroup(20, test.CartLine{SkuID: 2001, Price: "200", Quantity: 1}),
		},
		"selections": sel,
	}
}

// TestHealthAndMetrics 健康检查与指标接口无需身份
func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)

	w, _ = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "checkout_http_requests_total")
}

// TestIdentityRequired 缺少或非法的身份头返回401/400
func TestIdentityRequired(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodGet, "/api/discounts", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, -1, env.Code)

	w, _ = f.do(t, http.MethodGet, "/api/discounts", nil, middleware.HeaderUserID, "abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/discounts", nil, middleware.HeaderUserID, "1", middleware.HeaderSellerID, "-3")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestDiscountLifecycle 卖家创建、查询、更新并删除折扣
func TestDiscountLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodPost, "/api/discounts", discountBody("SAVE10", 10), seller(7, 10)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created model.Discount
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotZero(t, created.ID)
	require.NotNil(t, created.SellerID)
	assert.Equal(t, int64(10), *created.SellerID)
	path := "/api/discounts/" + strconv.FormatInt(created.ID, 10)

	// 同一卖家同码同期冲突
	w, env = f.do(t, http.MethodPost, "/api/discounts", discountBody("SAVE10", 20), seller(7, 10)...)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, -1, env.Code)

	w, env = f.do(t, http.MethodGet, path+"?fields=id,code", nil, user(1)...)
	require.Equal(t, http.StatusOK, w.Code)
	var projected model.Discount
	require.NoError(t, json.Unmarshal(env.Data, &projected))
	assert.Equal(t, "SAVE10", projected.Code)
	assert.Empty(t, projected.Name)

	// 未知列与表达式不会进入 SELECT
	w, env = f.do(t, http.MethodGet, path+"?fields=id,(SELECT%20password%20FROM%20users)", nil, user(1)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, -1, env.Code)

	w, env = f.do(t, http.MethodGet, "/api/discounts/code/SAVE10?valid=1", nil, user(1)...)
	require.Equal(t, http.StatusOK, w.Code)
	var byCode []model.Discount
	require.NoError(t, json.Unmarshal(env.Data, &byCode))
	assert.Len(t, byCode, 1)

	w, env = f.do(t, http.MethodGet, "/api/discounts?seller_id=10", nil, user(1)...)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []model.Discount
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	assert.Len(t, listed, 1)

	w, env = f.do(t, http.MethodPut, path, map[string]any{"name": "Renamed"}, seller(7, 10)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Discount
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Renamed", updated.Name)

	// 其他卖家无权修改
	w, _ = f.do(t, http.MethodPut, path, map[string]any{"name": "Hijack"}, seller(8, 20)...)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodDelete, path, nil, seller(7, 10)...)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = f.do(t, http.MethodDelete, path, nil, seller(7, 10)...)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/discounts/abc", nil, user(1)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestCreateDiscount_NotSellerOrAdmin 普通用户不能创建折扣
func TestCreateDiscount_NotSellerOrAdmin(t *testing.T) {
	f := newAPIFixture(t)
	w, env := f.do(t, http.MethodPost, "/api/discounts", discountBody("SAVE10", 10), user(1)...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Failed to create discount", env.Message)
}

// TestCheckoutFlow 预览、确认并撤销核销
func TestCheckoutFlow(t *testing.T) {
	f := newAPIFixture(t)
	shop := test.NewTestDiscount(test.Int64(10), "SAVE10", 10)
	shop.Count = test.Int64(3)
	test.CreateTestDiscount(t, f.db, shop)

	sel := service.Selections{Sellers: []model.DiscountSelection{{SellerID: 10, DiscountID: shop.ID}}}
	w, env := f.do(t, http.MethodPost, "/api/checkout/preview", cartBody(sel), user(1)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var preview model.CheckoutPreview
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	// 400 + 60000 运费 - 20 折扣
	assert.True(t, test.Dec("60380").Equal(preview.Result.TotalCheckout), preview.Result.TotalCheckout.String())

	f.events.On("SendCheckoutMessage", mock.Anything, mock.Anything).Return(nil).Once()
	w, env = f.do(t, http.MethodPost, "/api/checkout/"+preview.CheckoutID+"/confirm", sel, user(1)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var confirmation model.CheckoutConfirmation
	require.NoError(t, json.Unmarshal(env.Data, &confirmation))
	require.Len(t, confirmation.Redemptions, 1)
	f.events.AssertExpectations(t)

	// 快照已消费
	w, _ = f.do(t, http.MethodPost, "/api/checkout/"+preview.CheckoutID+"/confirm", sel, user(1)...)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.events.On("SendRedemptionMessage", mock.Anything, mock.Anything).Return(nil).Once()
	cancel := map[string]any{"discount_id": shop.ID, "order_ref": confirmation.OrderRef}
	w, env = f.do(t, http.MethodPost, "/api/redemptions/cancel", cancel, user(1)...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"outcome":"cancelled"`)

	w, env = f.do(t, http.MethodPost, "/api/redemptions/cancel", cancel, user(1)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"outcome":"nothing_to_cancel"`)

	w, _ = f.do(t, http.MethodPost, "/api/redemptions/cancel", map[string]any{"discount_id": shop.ID}, user(1)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestCheckout_SwitchOff 核销关闭时确认返回503，预览不受影响
func TestCheckout_SwitchOff(t *testing.T) {
	f := newAPIFixture(t)
	w, env := f.do(t, http.MethodPost, "/api/checkout/preview", cartBody(service.Selections{}), user(1)...)
	require.Equal(t, http.StatusOK, w.Code)
	var preview model.CheckoutPreview
	require.NoError(t, json.Unmarshal(env.Data, &preview))

	f.switcher.Enabled = false
	w, _ = f.do(t, http.MethodPost, "/api/checkout/"+preview.CheckoutID+"/confirm", service.Selections{}, user(1)...)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// TestAdminSwitch 只有管理员可以读写核销开关
func TestAdminSwitch(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodPost, "/api/admin/config/redemption?enabled=false", nil, user(1)...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, f.switcher.Enabled)

	w, _ = f.do(t, http.MethodPost, "/api/admin/config/redemption?enabled=maybe", nil, admin(1)...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := f.do(t, http.MethodPost, "/api/admin/config/redemption?enabled=false", nil, admin(1)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Discount redemption disabled", env.Message)
	assert.False(t, f.switcher.Enabled)

	w, env = f.do(t, http.MethodGet, "/api/admin/config/redemption", nil, admin(1)...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":false}`, string(env.Data))

	f.switcher.ShouldError = true
	w, _ = f.do(t, http.MethodGet, "/api/admin/config/redemption", nil, admin(1)...)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
