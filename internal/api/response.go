package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wnt/sparechange/internal/tracker"
)

// Response is the JSON envelope of every API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Errno pairs an envelope code with its HTTP status
type Errno struct {
	Code   int
	Status int
	Kind   string
}

var (
	OK            = Errno{Code: 0, Status: http.StatusOK}
	ErrBadRequest = Errno{Code: 40000, Status: http.StatusBadRequest, Kind: "bad_request"}
	ErrInternal   = Errno{Code: 50000, Status: http.StatusInternalServerError, Kind: tracker.KindInternal}
)

var errnoByTracker = map[string]Errno{
	tracker.KindInvalidAddress:       {Code: 40001, Status: http.StatusBadRequest, Kind: tracker.KindInvalidAddress},
	tracker.KindNoTransactionHistory: {Code: 40401, Status: http.StatusNotFound, Kind: tracker.KindNoTransactionHistory},
	tracker.KindNotInitialized:       {Code: 40901, Status: http.StatusConflict, Kind: tracker.KindNotInitialized},
	tracker.KindTrackingInProgress:   {Code: 40902, Status: http.StatusConflict, Kind: tracker.KindTrackingInProgress},
	tracker.KindPersistence:          {Code: 50001, Status: http.StatusInternalServerError, Kind: tracker.KindPersistence},
	tracker.KindUpstreamUnavailable:  {Code: 50201, Status: http.StatusBadGateway, Kind: tracker.KindUpstreamUnavailable},
}

// Decode maps an error to its Errno
func Decode(err error) Errno {
	if err == nil {
		return OK
	}
	if e, ok := errnoByTracker[tracker.KindOf(err)]; ok {
		return e
	}
	return ErrInternal
}

// Success writes data in the success envelope
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, Response{
		Code:    OK.Code,
		Message: "success",
		Data:    data,
	})
}

// Error writes err in the error envelope with the mapped HTTP status.
// Server-side failures are reported without their detail.
func Error(c *gin.Context, err error) {
	e := Decode(err)
	msg := err.Error()
	if e.Status >= http.StatusInternalServerError && e.Status != http.StatusBadGateway {
		msg = "internal error"
	}
	_ = c.Error(err)
	abort(c, e, msg)
}

// BadRequest writes a request validation failure
func BadRequest(c *gin.Context, msg string) {
	abort(c, ErrBadRequest, msg)
}

func abort(c *gin.Context, e Errno, msg string) {
	c.AbortWithStatusJSON(e.Status, Response{
		Code:    e.Code,
		Message: msg,
		Data:    gin.H{"kind": e.Kind},
	})
}
