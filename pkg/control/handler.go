package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/hvacdash/hvacdash/pkg/config"
	"github.com/hvacdash/hvacdash/pkg/httpx"
)

// HandleSetSpeed accepts {"unit": 12, "speed": 3, "comment": "..."}.
func (c *Controller) HandleSetSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.Origin = remoteIP(r)
	req.Agent = r.UserAgent()

	ctx, cancel := context.WithTimeout(r.Context(), config.ControllerTimeout)
	defer cancel()

	res, err := c.SetSpeed(ctx, req)
	if errors.Is(err, ErrUnitUnreachable) {
		httpx.RespondError(w, http.StatusBadGateway, err)
		return
	}
	if err != nil {
		httpx.RespondStoreError(w, r, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
