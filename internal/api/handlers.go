package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"nftmarket/internal/contract"
	"nftmarket/internal/feetx"
	"nftmarket/internal/market"
	"nftmarket/internal/model"
	"nftmarket/internal/storage/postgres"
)

// maxImageBytes bounds inline image uploads to keep jobs small on the
// queue.
const maxImageBytes = 8 << 20

type createItemRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ContentURL      string   `json:"contentUrl"`
	Price           string   `json:"price"`
	OwnerAddress    string   `json:"ownerAddress"`
	Tags            []string `json:"tags"`
	BackgroundColor string   `json:"backgroundColor"`
	ExternalSite    string   `json:"externalSite"`
}

type sellRequest struct {
	Price string `json:"price"`
}

type buyRequest struct {
	BuyerAddress string `json:"buyerAddress"`
}

type transferRequest struct {
	To string `json:"to"`
}

func (s *Server) createAccount(c *gin.Context) {
	account, err := s.service.CreateAccount(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusCreated, account)
}

func (s *Server) getAccount(c *gin.Context) {
	account, err := s.service.Account(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, account)
}

func (s *Server) createItem(c *gin.Context) {
	input, err := parseCreateItem(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	item, err := s.service.CreateItem(c.Request.Context(), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusCreated, item)
}

// parseCreateItem accepts either a JSON body or multipart form data
// with an optional inline image.
func parseCreateItem(c *gin.Context) (market.CreateItemInput, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		return parseCreateItemForm(c)
	}

	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return market.CreateItemInput{}, bad("malformed request body")
	}
	return market.CreateItemInput{
		Name:            req.Name,
		Description:     req.Description,
		ContentURL:      req.ContentURL,
		Price:           req.Price,
		OwnerAddress:    req.OwnerAddress,
		Tags:            req.Tags,
		BackgroundColor: req.BackgroundColor,
		ExternalSite:    req.ExternalSite,
	}, nil
}

func parseCreateItemForm(c *gin.Context) (market.CreateItemInput, error) {
	input := market.CreateItemInput{
		Name:            c.PostForm("name"),
		Description:     c.PostForm("description"),
		ContentURL:      c.PostForm("contentUrl"),
		Price:           c.PostForm("price"),
		OwnerAddress:    c.PostForm("ownerAddress"),
		BackgroundColor: c.PostForm("backgroundColor"),
		ExternalSite:    c.PostForm("externalSite"),
	}
	if tags := c.PostForm("tags"); tags != "" {
		input.Tags = strings.Split(tags, ",")
	}

	header, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return input, nil
		}
		return market.CreateItemInput{}, bad("malformed image upload")
	}
	if header.Size > maxImageBytes {
		return market.CreateItemInput{}, bad("image too large")
	}
	file, err := header.Open()
	if err != nil {
		return market.CreateItemInput{}, bad("malformed image upload")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes))
	if err != nil {
		return market.CreateItemInput{}, bad("malformed image upload")
	}
	input.Image = data
	input.ImageName = header.Filename
	return input, nil
}

func (s *Server) listItems(c *gin.Context) {
	items, err := s.service.Items(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	s.respond(c, http.StatusOK, items)
}

func (s *Server) getItem(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	item, err := s.service.Item(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, item)
}

func (s *Server) sellItem(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bad("malformed request body"))
		return
	}
	receipt, err := s.service.Sell(c.Request.Context(), id, req.Price)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, receipt)
}

func (s *Server) cancelSale(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	receipt, err := s.service.CancelSale(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, receipt)
}

func (s *Server) buyItem(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bad("malformed request body"))
		return
	}
	receipt, err := s.service.Buy(c.Request.Context(), id, req.BuyerAddress)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, receipt)
}

func (s *Server) transferItem(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bad("malformed request body"))
		return
	}
	receipt, err := s.service.Transfer(c.Request.Context(), id, req.To)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, receipt)
}

func (s *Server) tokenOwner(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	owner, err := s.service.TokenOwner(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, gin.H{"owner": owner})
}

func (s *Server) getTransaction(c *gin.Context) {
	receipt, err := s.service.Transaction(c.Request.Context(), c.Param("hash"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.respond(c, http.StatusOK, receipt)
}

func itemID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, bad("item id must be a positive integer")
	}
	return id, nil
}

func bad(msg string) error {
	return &apiError{status: http.StatusBadRequest, code: model.ResultBadRequest, msg: msg}
}

type apiError struct {
	status int
	code   int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

func (s *Server) respond(c *gin.Context, status int, result interface{}) {
	c.JSON(status, model.Envelope{
		ResultCode: model.ResultOK,
		Message:    "ok",
		Result:     result,
	})
}

// respondError maps service errors onto the envelope's result codes.
// Chain failures surface as 502 so load balancers do not recycle the
// process for an upstream node outage.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := model.ResultStorageFailure

	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		status, code = apiErr.status, apiErr.code
	case errors.Is(err, market.ErrValidation), errors.Is(err, market.ErrNotMinted):
		status, code = http.StatusBadRequest, model.ResultBadRequest
	case errors.Is(err, market.ErrNotFound), errors.Is(err, postgres.ErrNotFound):
		status, code = http.StatusNotFound, model.ResultNotFound
	case errors.Is(err, contract.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, model.ResultContractMissing
	case errors.Is(err, feetx.ErrRejected),
		errors.Is(err, feetx.ErrReverted),
		errors.Is(err, feetx.ErrNetworkUnavailable),
		errors.Is(err, feetx.ErrConfirmTimeout):
		status, code = http.StatusBadGateway, model.ResultChainFailure
	}

	c.JSON(status, model.Envelope{
		ResultCode: code,
		Message:    "error",
		Error:      err.Error(),
	})
}
