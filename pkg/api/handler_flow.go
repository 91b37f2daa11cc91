package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
	"github.com/probelab/delver/pkg/flow"
	"github.com/probelab/delver/pkg/models"
)

// startFlowsHandler handles POST /api/v1/flows.
// Admits one flow per topic and starts every accepted flow immediately.
// Rejected topics land in the errors list without blocking the rest.
func (s *Server) startFlowsHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req StartFlowsRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, faults.Validation("malformed request body"))
	}

	// 2. Validate required fields
	if len(req.Topics) == 0 {
		return s.fail(c, faults.Validation("topics field is required"))
	}

	// 3. Resolve research config overrides
	rc, err := s.researchOverrides(req.Config)
	if err != nil {
		return s.fail(c, err)
	}

	// 4. Admit and start one flow per topic
	resp := &StartFlowsResponse{FlowIDs: []string{}, Errors: []string{}}
	var firstErr error
	for _, topic := range req.Topics {
		id, err := s.flows.CreateFlow(topic, flow.CreateOptions{
			Topology: req.Topology,
			Config:   rc,
			Metadata: req.Metadata,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %s", topic, err))
			continue
		}
		s.flows.StartFlow(id)
		resp.FlowIDs = append(resp.FlowIDs, id)
	}
	resp.AcceptedCount = len(resp.FlowIDs)

	// 5. Return batch result; when nothing was admitted the status
	// follows the first failure
	status := http.StatusAccepted
	if resp.AcceptedCount == 0 && firstErr != nil {
		status = statusForKind(faults.KindOf(firstErr))
	}
	return c.JSON(status, resp)
}

// startContinuousHandler handles POST /api/v1/flows/continue.
// Starts a follow-up flow seeded with a completed flow's result.
func (s *Server) startContinuousHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req StartContinuousRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, faults.Validation("malformed request body"))
	}

	// 2. Validate required fields
	if req.PreviousFlowID == "" {
		return s.fail(c, faults.Validation("previous_flow_id field is required"))
	}

	// 3. Resolve research config overrides
	rc, err := s.researchOverrides(req.Config)
	if err != nil {
		return s.fail(c, err)
	}

	// 4. Admit and start the follow-up flow
	id, err := s.flows.StartContinuous(req.PreviousFlowID, req.Topic, rc)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusAccepted, &StartContinuousResponse{FlowID: id})
}

// researchOverrides applies request config overrides over the server
// defaults. A nil return means the defaults apply unchanged.
func (s *Server) researchOverrides(overrides map[string]any) (*config.ResearchConfig, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	rc := s.cfg.Research.Clone()
	if err := rc.ApplyMapping(overrides); err != nil {
		return nil, err
	}
	return rc, nil
}

// listFlowsHandler handles GET /api/v1/flows.
func (s *Server) listFlowsHandler(c *echo.Context) error {
	// 1. Parse filters
	filters := models.FlowFilters{Topology: c.QueryParam("topology")}
	if v := c.QueryParam("status"); v != "" {
		status := models.FlowStatus(v)
		if !status.IsValid() {
			return s.fail(c, faults.Newf(faults.KindValidation, "unknown status %q", v))
		}
		filters.Status = status
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := parsePositiveInt("limit", v)
		if err != nil {
			return s.fail(c, err)
		}
		filters.Limit = limit
	}

	// 2. List matching flows, newest first
	flows, total := s.flows.ListFlows(filters)
	return c.JSON(http.StatusOK, &models.FlowListResponse{Flows: flows, Total: total})
}

// getFlowHandler handles GET /api/v1/flows/:id.
func (s *Server) getFlowHandler(c *echo.Context) error {
	id := c.Param("id")
	f, ok := s.flows.GetFlow(id)
	if !ok {
		return s.fail(c, faults.NotFound("flow", id))
	}
	return c.JSON(http.StatusOK, f)
}

// cancelFlowHandler handles POST /api/v1/flows/:id/cancel.
func (s *Server) cancelFlowHandler(c *echo.Context) error {
	// 1. Ensure the flow exists
	id := c.Param("id")
	if _, ok := s.flows.GetFlow(id); !ok {
		return s.fail(c, faults.NotFound("flow", id))
	}

	// 2. Cancel; false means the flow was already terminal
	cancelled := s.flows.CancelFlow(id)
	return c.JSON(http.StatusOK, &CancelFlowResponse{Cancelled: cancelled})
}
