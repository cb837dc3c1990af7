package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/eaglebank/teller/internal/form"
	"github.com/eaglebank/teller/internal/query"
	"github.com/eaglebank/teller/shared/cqrs"
	"github.com/eaglebank/teller/shared/middleware"
	"github.com/eaglebank/teller/shared/models"
	"github.com/eaglebank/teller/shared/utils"
)

// TransactionCommander defines the write-side operations used by TransactionHandler.
type TransactionCommander interface {
	CreateTransaction(context.Context, cqrs.CreateTransactionCommand) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(context.Context, cqrs.GetTransactionQuery) (*models.TransactionView, error)
	ListTransactions(context.Context, cqrs.ListTransactionsQuery) ([]models.TransactionView, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
}

// AmountRequest is the body of deposits, withdrawals and loan requests. The
// amount is cleaned by the form validator, so it carries no tags here.
type AmountRequest struct {
	Amount Amount `json:"amount"`
}

// TransferRequest leaves account_no to the form validator, which reports
// unknown accounts including 0 and negative numbers.
type TransferRequest struct {
	Amount    Amount `json:"amount"`
	AccountNo *int64 `json:"account_no"`
}

// Amount decodes a JSON number or numeric string. Null, a missing field and
// an empty string all decode as no amount. Anything else fails with a
// form.ValidationError on the amount field.
type Amount struct {
	decimal.NullDecimal
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == `""` {
		a.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	if err := a.NullDecimal.UnmarshalJSON(data); err != nil {
		return form.NotANumber()
	}
	return nil
}

type ListTransactionsParams struct {
	Type string `form:"type" json:"type" validate:"omitempty,oneof=deposit withdraw transfer loan_request"`
}

type ListTransactionsResponse struct {
	Transactions []models.TransactionView `json:"transactions"`
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries}
}

// Register mounts the transaction routes on rg, which must carry an
// :accountNo parameter. submit wraps the four POST routes only.
func (h *TransactionHandler) Register(rg *gin.RouterGroup, submit ...gin.HandlerFunc) {
	post := func(path string, typ models.TransactionType) {
		rg.POST(path, append(submit[:len(submit):len(submit)], h.CreateTransaction(typ))...)
	}
	post("/deposits", models.TransactionDeposit)
	post("/withdrawals", models.TransactionWithdraw)
	post("/transfers", models.TransactionTransfer)
	post("/loan-requests", models.TransactionLoanRequest)

	rg.GET("/transactions", h.ListTransactions)
	rg.GET("/transactions/:transactionId", h.GetTransaction)
}

// CreateTransaction returns the handler for one transaction type. The type
// comes from the route and is never read from the request.
func (h *TransactionHandler) CreateTransaction(typ models.TransactionType) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountNo, ok := accountNoParam(c)
		if !ok {
			return
		}
		userID, _ := middleware.GetUserID(c)

		cmd := cqrs.CreateTransactionCommand{
			AccountNo: accountNo,
			UserID:    userID,
			Type:      typ,
		}
		if typ == models.TransactionTransfer {
			var req TransferRequest
			if !bindBody(c, &req) {
				return
			}
			cmd.Amount = req.Amount.NullDecimal
			cmd.DestinationAccountNo = req.AccountNo
		} else {
			var req AmountRequest
			if !bindBody(c, &req) {
				return
			}
			cmd.Amount = req.Amount.NullDecimal
		}

		transaction, err := h.commands.CreateTransaction(c.Request.Context(), cmd)
		if err != nil {
			respondWithDomainError(c, err, "Failed to create transaction")
			return
		}

		c.JSON(http.StatusCreated, models.NewTransactionView(transaction))
	}
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	accountNo, ok := accountNoParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	var params ListTransactionsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}
	if validationErrors := middleware.ValidateRequest(params); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	views, err := h.queries.ListTransactions(c.Request.Context(), cqrs.ListTransactionsQuery{
		AccountNo: accountNo,
		UserID:    userID,
		Type:      models.TransactionType(params.Type),
	})
	if err != nil {
		respondWithDomainError(c, err, "Failed to list transactions")
		return
	}

	c.JSON(http.StatusOK, ListTransactionsResponse{Transactions: views})
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	accountNo, ok := accountNoParam(c)
	if !ok {
		return
	}
	userID, _ := middleware.GetUserID(c)

	transactionID := c.Param("transactionId")
	if !utils.ValidateTransactionID(transactionID) {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid transaction ID")
		return
	}

	view, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{
		TransactionID: transactionID,
		AccountNo:     accountNo,
		UserID:        userID,
	})
	if err != nil {
		respondWithDomainError(c, err, "Failed to get transaction")
		return
	}

	c.JSON(http.StatusOK, view)
}

func accountNoParam(c *gin.Context) (int64, bool) {
	accountNo, err := strconv.ParseInt(c.Param("accountNo"), 10, 64)
	if err != nil || accountNo <= 0 {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid account number")
		return 0, false
	}
	return accountNo, true
}

func bindBody(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var verr *form.ValidationError
		if errors.As(err, &verr) {
			respondWithDomainError(c, verr, "Invalid request body")
			return false
		}
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func respondWithDomainError(c *gin.Context, err error, fallback string) {
	var verr *form.ValidationError
	switch {
	case errors.As(err, &verr):
		middleware.RespondWithValidationError(c, []middleware.ValidationError{{
			Field:   verr.Field,
			Message: verr.Message,
			Type:    "form",
		}})
	case errors.Is(err, query.ErrInvalidFilter):
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid transaction type filter")
	case errors.Is(err, models.ErrAccountNotFound):
		middleware.RespondWithError(c, http.StatusNotFound, "Account not found")
	case errors.Is(err, models.ErrTransactionNotFound):
		middleware.RespondWithError(c, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, models.ErrForbidden):
		middleware.RespondWithError(c, http.StatusForbidden, "You can only access your own accounts")
	default:
		middleware.RespondWithError(c, http.StatusInternalServerError, fallback)
	}
}
