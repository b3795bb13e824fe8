package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/teaflowhq/teaflow"
	model2 "github.com/teaflowhq/teaflow/api/model"
	"github.com/teaflowhq/teaflow/config"
	"github.com/teaflowhq/teaflow/database/mocks"
	"github.com/teaflowhq/teaflow/internal/apierror"
	"github.com/teaflowhq/teaflow/internal/request"
	"github.com/teaflowhq/teaflow/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	err := json.NewDecoder(resp.Body).Decode(&s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

var (
	testRedis     *miniredis.Miniredis
	testRedisOnce sync.Once
)

// testRedisAddr starts a package-wide in-memory Redis so setupRouter can
// build a Teaflow instance without an external server.
func testRedisAddr() string {
	testRedisOnce.Do(func() {
		mr, err := miniredis.Run()
		if err != nil {
			log.Fatalf("an error '%s' occurred when starting miniredis", err)
		}
		testRedis = mr
	})
	return testRedis.Addr()
}

func setupRouter() (*gin.Engine, *mocks.MockDataSource, error) {
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: testRedisAddr()},
	})
	mockDS := new(mocks.MockDataSource)
	svc, err := teaflow.NewTeaflow(mockDS)
	if err != nil {
		return nil, nil, err
	}
	router := NewAPI(svc).Router()
	return router, mockDS, nil
}

func TestCreateBidAPI(t *testing.T) {
	router, mockDS, err := setupRouter()
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	buyer := gofakeit.Company()
	stored := &model.Bid{
		BidID:    "bid_123",
		LotID:    "LOT-42",
		Buyer:    buyer,
		Amount:   184500.00,
		Currency: "KES",
		Status:   model.StatusBidIntake,
	}
	mockDS.On("RecordBid", mock.Anything, mock.Anything).Return(stored, nil)

	tests := []struct {
		name         string
		payload      model2.CreateBid
		expectedCode int
	}{
		{
			name: "Valid Bid",
			payload: model2.CreateBid{
				LotID:    "LOT-42",
				Buyer:    buyer,
				Amount:   184500.00,
				Currency: "KES",
			},
			expectedCode: http.StatusCreated,
		},
		{
			name: "Missing Buyer",
			payload: model2.CreateBid{
				LotID:    "LOT-42",
				Amount:   184500.00,
				Currency: "KES",
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "No Amount Or Quantity",
			payload: model2.CreateBid{
				LotID:    "LOT-42",
				Buyer:    buyer,
				Currency: "KES",
			},
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloadBytes, _ := request.ToJsonReq(&tt.payload)
			var response model.Bid
			testRequest := TestRequest{
				Payload:  payloadBytes,
				Response: &response,
				Method:   "POST",
				Route:    "/bids",
				Router:   router,
			}

			resp, err := SetUpTestRequest(testRequest)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.Code)

			if tt.expectedCode == http.StatusCreated {
				assert.Equal(t, "bid_123", response.BidID)
				assert.Equal(t, model.StatusBidIntake, response.Status)
			}
		})
	}
}

func TestGetBidAPI(t *testing.T) {
	router, mockDS, err := setupRouter()
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	mockDS.On("GetBidByID", mock.Anything, "bid_123").Return(&model.Bid{
		BidID:  "bid_123",
		Buyer:  "Chai Traders Ltd",
		Status: model.StatusPaymentMatching,
	}, nil)
	mockDS.On("GetBidByID", mock.Anything, "bid_missing").Return(nil,
		apierror.NewAPIError(apierror.ErrNotFound, "Bid with ID 'bid_missing' not found", nil))

	var response model.Bid
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/bids/bid_123",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "bid_123", response.BidID)

	var errResponse map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{
		Response: &errResponse,
		Method:   "GET",
		Route:    "/bids/bid_missing",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestValidateTransitionAPI(t *testing.T) {
	router, mockDS, err := setupRouter()
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	mockDS.On("GetBidByID", mock.Anything, "bid_123").Return(&model.Bid{
		BidID:  "bid_123",
		Buyer:  "Chai Traders Ltd",
		Amount: 184500.00,
		Status: model.StatusBidIntake,
		ESlip:  &model.ESlipDetails{Reference: "eslip_1", Status: model.ESlipGenerated},
	}, nil)

	tests := []struct {
		name        string
		permissions []string
		wantValid   bool
		wantCode    model.TransitionCode
	}{
		{
			name:        "Permitted",
			permissions: []string{"eslips:send"},
			wantValid:   true,
			wantCode:    model.TransitionOK,
		},
		{
			name:        "No Permissions",
			permissions: []string{"payments:match"},
			wantValid:   false,
			wantCode:    model.InsufficientPermissions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payloadBytes, _ := request.ToJsonReq(&model2.TransitionRequest{
				TargetStatus: "e-slip-sent",
				Permissions:  tt.permissions,
			})
			var result model.TransitionResult
			resp, err := SetUpTestRequest(TestRequest{
				Payload:  payloadBytes,
				Response: &result,
				Method:   "POST",
				Route:    "/bids/bid_123/transitions/validate",
				Router:   router,
			})
			assert.NoError(t, err)
			// Validation always answers 200; the verdict is in the body.
			assert.Equal(t, http.StatusOK, resp.Code)
			assert.Equal(t, tt.wantValid, result.Valid)
			assert.Equal(t, tt.wantCode, result.Code)
		})
	}
}

func TestGetBidProgressAPI(t *testing.T) {
	router, mockDS, err := setupRouter()
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	mockDS.On("GetBidByID", mock.Anything, "bid_123").Return(&model.Bid{
		BidID:  "bid_123",
		Status: model.StatusPayoutApproval,
	}, nil)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/bids/bid_123/progress",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "bid_123", response["bid_id"])
	assert.InDelta(t, 83.33, response["progress"].(float64), 0.01)
}

func TestRecordInflowAPI(t *testing.T) {
	router, mockDS, err := setupRouter()
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	mockDS.On("RecordInflow", mock.Anything, mock.Anything).Return(nil)

	payloadBytes, _ := request.ToJsonReq(&model2.RecordInflow{
		Amount:    184500.00,
		Currency:  "KES",
		PayerName: gofakeit.Company(),
		Reference: "eslip_8f2a",
	})
	var response model.PaymentInflow
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  payloadBytes,
		Response: &response,
		Method:   "POST",
		Route:    "/inflows",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Contains(t, response.InflowID, "inflow_")
	assert.Equal(t, model.InflowUnmatched, response.Status)

	// A zero amount never reaches the datasource.
	payloadBytes, _ = request.ToJsonReq(&model2.RecordInflow{PayerName: "x"})
	var errResponse map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{
		Payload:  payloadBytes,
		Response: &errResponse,
		Method:   "POST",
		Route:    "/inflows",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetBidHistoryAPI(t *testing.T) {
	router, mockDS, err := setupRouter()
	if err != nil {
		t.Fatalf("Failed to setup router: %v", err)
	}

	mockDS.On("GetTransitionLogs", mock.Anything, "bid_123").Return([]*model.TransitionLog{
		{LogID: "tlog_1", BidID: "bid_123", FromStatus: model.StatusBidIntake, ToStatus: model.StatusESlipSent},
	}, nil)

	var response []model.TransitionLog
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    fmt.Sprintf("/bids/%s/history", "bid_123"),
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, response, 1)
	assert.Equal(t, model.StatusESlipSent, response[0].ToStatus)
}
