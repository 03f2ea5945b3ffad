// README: Location handlers for device fixes, user location records and reverse geocoding.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"afyaride/internal/modules/location"
	"afyaride/internal/types"
)

const (
	defaultNearbyRadiusKm = 5.0
	maxNearbyRadiusKm     = 50.0
	maxHistoryLimit       = 500
)

type LocationHandler struct {
	location *location.Service
	devices  location.DeviceSource
	log      *zap.Logger
}

// NewLocationHandler builds the handler. devices may be nil, in which case device
// endpoints answer as if no location capability exists.
func NewLocationHandler(svc *location.Service, devices location.DeviceSource, log *zap.Logger) *LocationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocationHandler{location: svc, devices: devices, log: log}
}

func (h *LocationHandler) deviceService(deviceID string) *location.Service {
	if h.devices == nil {
		return h.location.WithProvider(nil)
	}
	return h.location.WithProvider(h.devices.Device(deviceID))
}

// Current returns a single fix for a device.
func (h *LocationHandler) Current(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid device id")
		return
	}
	svc := h.deviceService(id)
	fix, err := svc.GetCurrentLocation(c.Request.Context())
	if err != nil {
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"device_id": id,
		"location":  fix,
		"accurate":  svc.IsAccurate(fix),
	})
}

type geocodeReq struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (h *LocationHandler) Geocode(c *gin.Context) {
	var req geocodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	fix, err := location.NewCoordinate(*req.Lat, *req.Lng, nil, time.Time{})
	if err != nil {
		writeLocationError(c, err)
		return
	}
	place, err := h.location.ReverseGeocode(c.Request.Context(), fix)
	if err != nil {
		h.log.Warn("reverse geocode failed", zap.Error(err))
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"place": place})
}

type updateLocationReq struct {
	UserType   string     `json:"user_type" binding:"required"`
	Lat        *float64   `json:"lat" binding:"required"`
	Lng        *float64   `json:"lng" binding:"required"`
	Accuracy   *float64   `json:"accuracy"`
	CapturedAt *time.Time `json:"captured_at"`
}

// Update records a user's reported fix as their latest position.
func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid user id")
		return
	}
	var req updateLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	var capturedAt time.Time
	if req.CapturedAt != nil {
		capturedAt = *req.CapturedAt
	}
	fix, err := location.NewCoordinate(*req.Lat, *req.Lng, req.Accuracy, capturedAt)
	if err != nil {
		writeLocationError(c, err)
		return
	}

	res, err := h.location.Update(c.Request.Context(), location.Update{
		UserID:   types.ID(id),
		UserType: location.UserType(req.UserType),
		Fix:      fix,
	})
	if err != nil {
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type fixResponse struct {
	ID         int64               `json:"id,omitempty"`
	UserID     types.ID            `json:"user_id"`
	UserType   location.UserType   `json:"user_type"`
	Location   location.Coordinate `json:"location"`
	AgeSeconds *float64            `json:"age_seconds,omitempty"`
}

func snapshotResponse(snap location.Snapshot) (fixResponse, error) {
	fix, err := snap.Coordinate()
	if err != nil {
		return fixResponse{}, err
	}
	return fixResponse{ID: snap.ID, UserID: snap.UserID, UserType: snap.UserType, Location: fix}, nil
}

func (h *LocationHandler) Last(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid user id")
		return
	}
	last, err := h.location.LastKnown(c.Request.Context(), types.ID(id))
	if err != nil {
		writeLocationError(c, err)
		return
	}
	resp, err := snapshotResponse(last.Snapshot)
	if err != nil {
		h.log.Error("stored fix is invalid", zap.String("user_id", id), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	age := last.Age.Seconds()
	resp.AgeSeconds = &age
	writeJSON(c, http.StatusOK, resp)
}

func (h *LocationHandler) History(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid user id")
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(c, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	snaps, err := h.location.History(c.Request.Context(), types.ID(id), limit)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	out := make([]fixResponse, 0, len(snaps))
	for _, snap := range snaps {
		resp, err := snapshotResponse(snap)
		if err != nil {
			h.log.Warn("skipping invalid snapshot", zap.Int64("id", snap.ID), zap.Error(err))
			continue
		}
		out = append(out, resp)
	}
	writeJSON(c, http.StatusOK, gin.H{"user_id": id, "snapshots": out})
}

func (h *LocationHandler) Nearby(c *gin.Context) {
	userType := location.UserType(c.Query("user_type"))
	if !userType.Valid() {
		writeError(c, http.StatusBadRequest, "unknown user_type")
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	center, err := location.NewCoordinate(lat, lng, nil, time.Time{})
	if err != nil {
		writeLocationError(c, err)
		return
	}
	radius := defaultNearbyRadiusKm
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(r > 0) || r > maxNearbyRadiusKm {
			writeError(c, http.StatusBadRequest, "radius_km must be in (0, 50]")
			return
		}
		radius = r
	}

	users, err := h.location.Nearby(c.Request.Context(), userType, center, radius)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"user_type": userType, "radius_km": radius, "users": users})
}
