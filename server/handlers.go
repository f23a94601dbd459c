package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/signin"
	"github.com/basehealth/x402/storage"
	"github.com/basehealth/x402/tips"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
)

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.x.Supported())
}

func (s *Server) handleVerify(c *gin.Context) {
	var req types.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.Invalid(clients.ReasonInvalidPaymentHeader+": "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, s.x.Verify(c.Request.Context(), &req))
}

type nonceRequest struct {
	Address string `json:"address"`
	URI     string `json:"uri"`
}

type nonceResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message,omitempty"`
}

// handleNonce issues a nonce in both the body and an httpOnly cookie. When an
// address is supplied the canonical message to sign is returned as well.
func (s *Server) handleNonce(c *gin.Context) {
	var req nonceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Address != "" && !utils.IsAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	nonce := signin.NewNonce()
	s.setNonceCookie(c, nonce, int(s.nonceTTL.Seconds()))

	resp := nonceResponse{Nonce: nonce}
	if req.Address != "" {
		resp.Message = s.x.Challenge(c.Request.Host, req.Address, nonce, s.statement, req.URI).String()
	}
	c.JSON(http.StatusOK, resp)
}

type signInRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) handleSignIn(c *gin.Context) {
	expected, _ := c.Cookie(NonceCookie)
	// single use, whatever the outcome
	s.setNonceCookie(c, "", -1)

	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}

	res := s.x.Authenticate(c.Request.Context(), signin.Attempt{
		Address:       req.Address,
		Message:       req.Message,
		Signature:     req.Signature,
		ExpectedNonce: expected,
		Host:          c.Request.Host,
	})
	if !res.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "code": res.Code, "error": res.Reason})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":               true,
		"address":          res.Address,
		"chainId":          res.Message.ChainID,
		"isContractWallet": res.IsContractWallet,
	})
}

func (s *Server) setNonceCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(NonceCookie, value, maxAge, "/", "", s.cookieSecure, true)
}

func (s *Server) handleTip(c *gin.Context) {
	if !s.x.TipsEnabled() {
		c.JSON(http.StatusServiceUnavailable, tips.Result{Error: "tips are not configured", Code: tips.CodeUpstream})
		return
	}

	var req tips.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tips.Result{Error: err.Error(), Code: tips.CodeInvalidHash})
		return
	}

	res := s.x.VerifyTip(c.Request.Context(), req)
	c.JSON(tipStatus(res), res)
}

func tipStatus(res *tips.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case tips.CodePending:
		return http.StatusAccepted
	case tips.CodeAlreadyUsed:
		return http.StatusConflict
	case tips.CodeInvalidHash, tips.CodeRecipientMismatch, tips.CodeTxFailed, tips.CodeTxNotFound:
		return http.StatusBadRequest
	case tips.CodePriceUnavailable, tips.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleReceipt(c *gin.Context) {
	hash := c.Param("txHash")
	if !utils.IsTransactionHash(hash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": clients.ReasonInvalidTxHash})
		return
	}

	r, err := s.x.Receipt(c.Request.Context(), hash)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "receipt not found"})
		return
	}
	if err != nil {
		s.logger.Error("failed to build receipt", map[string]any{"txHash": hash, "error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, r)
}
