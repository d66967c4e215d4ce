package risk

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// API exposes the scorer over HTTP.
type API struct {
	scorer *Scorer
	logger *zap.Logger
}

// NewAPI creates the HTTP API over a scorer.
func NewAPI(scorer *Scorer, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		scorer: scorer,
		logger: logger.With(zap.String("component", "risk_api")),
	}
}

// RegisterRoutes attaches the risk endpoints to the router.
func RegisterRoutes(router *gin.Engine, api *API) {
	v1 := router.Group("/api/v1/risk")
	{
		v1.POST("/assess", api.handleAssess)
		v1.POST("/auth-result", api.handleAuthResult)
		v1.GET("/identities/:identity/devices", api.handleListDevices)
	}
}

// deviceAttributes is the optional structured device payload.
type deviceAttributes struct {
	UserAgent string `json:"user_agent"`
	Platform  string `json:"platform"`
	ScreenRes string `json:"screen_resolution"`
	Timezone  string `json:"timezone"`
	Language  string `json:"language"`
}

type assessRequest struct {
	Identity  string            `json:"identity" binding:"required"`
	IP        string            `json:"ip" binding:"required"`
	UserAgent string            `json:"user_agent"`
	Device    *deviceAttributes `json:"device,omitempty"`
	Location  string            `json:"location,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type authResultRequest struct {
	Identity  string            `json:"identity" binding:"required"`
	IP        string            `json:"ip" binding:"required"`
	UserAgent string            `json:"user_agent"`
	Device    *deviceAttributes `json:"device,omitempty"`
	Location  string            `json:"location,omitempty"`
	Success   bool              `json:"success"`
}

// fingerprintFrom builds the engine fingerprint from the request payload,
// falling back to a user-agent-only fingerprint.
func fingerprintFrom(device *deviceAttributes, userAgent string) DeviceFingerprint {
	if device == nil {
		return FingerprintFromUserAgent(userAgent)
	}
	ua := device.UserAgent
	if ua == "" {
		ua = userAgent
	}
	return NewDeviceFingerprint(ua, device.Platform, device.ScreenRes, device.Timezone, device.Language)
}

// handleAssess scores one authentication attempt.
func (a *API) handleAssess(c *gin.Context) {
	var req assessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assessReq := AssessRequest{
		Identity:  req.Identity,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Location:  req.Location,
		Metadata:  req.Metadata,
	}
	if req.Device != nil {
		fp := fingerprintFrom(req.Device, req.UserAgent)
		assessReq.Device = &fp
	}

	assessment := a.scorer.CalculateRisk(c.Request.Context(), assessReq)
	c.JSON(http.StatusOK, assessment)
}

// handleAuthResult records the outcome of a completed authentication:
// success grows trust state, failure feeds the failure-rate signal.
func (a *API) handleAuthResult(c *gin.Context) {
	var req authResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if !req.Success {
		if err := a.scorer.RegisterFailedAuth(ctx, req.Identity); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "failure recorded"})
		return
	}

	fp := fingerprintFrom(req.Device, req.UserAgent)
	if err := a.scorer.RegisterSuccessfulAuth(ctx, req.Identity, req.IP, fp, req.Location); err != nil {
		a.logger.Error("Failed to register successful auth",
			zap.String("identity", req.Identity), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "registered"})
}

// handleListDevices returns the identity's known devices.
func (a *API) handleListDevices(c *gin.Context) {
	identity := c.Param("identity")

	devices, err := a.scorer.Devices(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"identity": identity, "devices": devices})
}
