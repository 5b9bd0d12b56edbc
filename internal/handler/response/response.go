package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/olegin77/TUSD-sub001/pkg/errno"
)

// Response is the envelope every API reply uses: a business code from
// pkg/errno plus the payload. HTTP status is always 200; clients branch
// on the code.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Success wraps the payload with the OK code. A nil payload becomes an
// empty object so clients never see null data.
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error maps the error onto its errno code; unrecognized errors decode
// to the internal-error code.
func Error(c *gin.Context, err error) {
	code, msg := errno.Decode(err)
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	})
}
