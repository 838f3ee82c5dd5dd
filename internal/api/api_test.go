package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/internal/feetx"
	"nftmarket/internal/market"
	"nftmarket/internal/model"
)

type fakeMarketplace struct {
	createInput market.CreateItemInput
	createItem  model.Item
	createErr   error

	items    []model.Item
	itemErr  error
	receipt  model.Receipt
	tradeErr error

	sellPrice string
	buyer     string
	to        string
	owner     string
	txHash    string
}

func (f *fakeMarketplace) CreateAccount(context.Context) (model.Account, error) {
	return model.Account{Address: "0x7777777777777777777777777777777777777777"}, nil
}

func (f *fakeMarketplace) Account(_ context.Context, address string) (model.Account, error) {
	if address != "0x7777777777777777777777777777777777777777" {
		return model.Account{}, market.ErrNotFound
	}
	return model.Account{Address: address}, nil
}

func (f *fakeMarketplace) TokenOwner(context.Context, int64) (string, error) {
	return f.owner, f.tradeErr
}

func (f *fakeMarketplace) CreateItem(_ context.Context, input market.CreateItemInput) (model.Item, error) {
	f.createInput = input
	return f.createItem, f.createErr
}

func (f *fakeMarketplace) Items(context.Context) ([]model.Item, error) {
	return f.items, f.itemErr
}

func (f *fakeMarketplace) Item(_ context.Context, id int64) (model.Item, error) {
	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}
	return model.Item{}, market.ErrNotFound
}

func (f *fakeMarketplace) Sell(_ context.Context, _ int64, price string) (model.Receipt, error) {
	f.sellPrice = price
	return f.receipt, f.tradeErr
}

func (f *fakeMarketplace) CancelSale(context.Context, int64) (model.Receipt, error) {
	return f.receipt, f.tradeErr
}

func (f *fakeMarketplace) Buy(_ context.Context, _ int64, buyer string) (model.Receipt, error) {
	f.buyer = buyer
	return f.receipt, f.tradeErr
}

func (f *fakeMarketplace) Transfer(_ context.Context, _ int64, to string) (model.Receipt, error) {
	f.to = to
	return f.receipt, f.tradeErr
}

func (f *fakeMarketplace) Transaction(_ context.Context, hash string) (model.Receipt, error) {
	f.txHash = hash
	return f.receipt, f.tradeErr
}

func doRequest(t *testing.T, service Marketplace, method, path string, body interface{}) (*httptest.ResponseRecorder, model.Envelope) {
	t.Helper()
	server := NewServer(":0", service, nil)

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var envelope model.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec, envelope
}

func TestCreateItem(t *testing.T) {
	service := &fakeMarketplace{
		createItem: model.Item{ID: 7, Name: "seven", MintState: model.MintStateQueuedRequest},
	}

	rec, envelope := doRequest(t, service, http.MethodPost, "/api/items", map[string]interface{}{
		"name":         "seven",
		"price":        "1000",
		"ownerAddress": "0x1111111111111111111111111111111111111111",
		"tags":         []string{"art"},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, model.ResultOK, envelope.ResultCode)
	require.Equal(t, "seven", service.createInput.Name)
	require.Equal(t, []string{"art"}, service.createInput.Tags)
}

func TestCreateItemMultipart(t *testing.T) {
	service := &fakeMarketplace{createItem: model.Item{ID: 1}}
	server := NewServer(":0", service, nil)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("name", "pixel"))
	require.NoError(t, form.WriteField("ownerAddress", "0x1111111111111111111111111111111111111111"))
	part, err := form.CreateFormFile("image", "pixel.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/items", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "pixel", service.createInput.Name)
	require.Equal(t, "pixel.png", service.createInput.ImageName)
	require.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, service.createInput.Image)
}

func TestCreateItemValidationMapsToBadRequest(t *testing.T) {
	service := &fakeMarketplace{
		createErr: fmt.Errorf("%w: name is required", market.ErrValidation),
	}

	rec, envelope := doRequest(t, service, http.MethodPost, "/api/items", map[string]string{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, model.ResultBadRequest, envelope.ResultCode)
	require.Contains(t, envelope.Error, "name is required")
}

func TestListItems(t *testing.T) {
	service := &fakeMarketplace{items: []model.Item{{ID: 1}, {ID: 2}}}

	rec, envelope := doRequest(t, service, http.MethodGet, "/api/items", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.ResultOK, envelope.ResultCode)
	items, ok := envelope.Result.([]interface{})
	require.True(t, ok)
	require.Len(t, items, 2)
}

func TestListItemsEmptyIsArray(t *testing.T) {
	rec, _ := doRequest(t, &fakeMarketplace{}, http.MethodGet, "/api/items", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"result":[]`)
}

func TestGetItemNotFound(t *testing.T) {
	rec, envelope := doRequest(t, &fakeMarketplace{}, http.MethodGet, "/api/items/99", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, model.ResultNotFound, envelope.ResultCode)
}

func TestGetItemBadID(t *testing.T) {
	rec, envelope := doRequest(t, &fakeMarketplace{}, http.MethodGet, "/api/items/xyz", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, model.ResultBadRequest, envelope.ResultCode)
}

func TestSellItem(t *testing.T) {
	service := &fakeMarketplace{receipt: model.Receipt{TransactionHash: "0xsell", Status: 1}}

	rec, envelope := doRequest(t, service, http.MethodPost, "/api/items/1/sale", map[string]string{"price": "2000"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.ResultOK, envelope.ResultCode)
	require.Equal(t, "2000", service.sellPrice)
}

func TestBuyItemChainFailure(t *testing.T) {
	service := &fakeMarketplace{tradeErr: fmt.Errorf("submit: %w", feetx.ErrReverted)}

	rec, envelope := doRequest(t, service, http.MethodPost, "/api/items/1/purchase", map[string]string{
		"buyerAddress": "0x2222222222222222222222222222222222222222",
	})

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, model.ResultChainFailure, envelope.ResultCode)
}

func TestTransferItem(t *testing.T) {
	service := &fakeMarketplace{receipt: model.Receipt{TransactionHash: "0xmove"}}

	rec, _ := doRequest(t, service, http.MethodPost, "/api/items/1/transfer", map[string]string{
		"to": "0x3333333333333333333333333333333333333333",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0x3333333333333333333333333333333333333333", service.to)
}

func TestCancelSale(t *testing.T) {
	service := &fakeMarketplace{receipt: model.Receipt{TransactionHash: "0xcancel"}}

	rec, envelope := doRequest(t, service, http.MethodDelete, "/api/items/1/sale", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.ResultOK, envelope.ResultCode)
}

func TestGetTransaction(t *testing.T) {
	service := &fakeMarketplace{receipt: model.Receipt{TransactionHash: "0xabc", Status: 1}}

	hash := "0x" + strings.Repeat("ab", 32)
	rec, envelope := doRequest(t, service, http.MethodGet, "/api/transactions/"+hash, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.ResultOK, envelope.ResultCode)
	require.Equal(t, hash, service.txHash)
}

func TestTransactionNotFound(t *testing.T) {
	service := &fakeMarketplace{tradeErr: market.ErrNotFound}

	rec, envelope := doRequest(t, service, http.MethodGet, "/api/transactions/0x123", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, model.ResultNotFound, envelope.ResultCode)
}

func TestCreateAccount(t *testing.T) {
	rec, envelope := doRequest(t, &fakeMarketplace{}, http.MethodPost, "/api/accounts", nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, model.ResultOK, envelope.ResultCode)
	require.NotContains(t, rec.Body.String(), "private")
}

func TestGetAccountNotFound(t *testing.T) {
	rec, envelope := doRequest(t, &fakeMarketplace{}, http.MethodGet,
		"/api/accounts/0x1111111111111111111111111111111111111111", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, model.ResultNotFound, envelope.ResultCode)
}

func TestTokenOwner(t *testing.T) {
	service := &fakeMarketplace{owner: "0x5555555555555555555555555555555555555555"}

	rec, envelope := doRequest(t, service, http.MethodGet, "/api/items/1/owner", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.ResultOK, envelope.ResultCode)
	require.Contains(t, rec.Body.String(), service.owner)
}

func TestHealthz(t *testing.T) {
	server := NewServer(":0", &fakeMarketplace{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
