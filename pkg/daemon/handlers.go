package daemon

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/swbio/pipet/pkg/executor"
	"github.com/swbio/pipet/pkg/protocol"
	"github.com/swbio/pipet/pkg/version"
)

func getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, exec.Status())
}

func getPosition(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, rb.State().Position)
}

func getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, conf)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"version":   version.Version,
		"gitCommit": version.GitCommit,
	})
}

func postRun(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	steps, err := protocol.Parse(body)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := exec.Start(steps); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, executor.ErrBusy) {
			code = http.StatusConflict
		}
		c.IndentedJSON(code, err.Error())
		_ = c.AbortWithError(code, err)
		return
	}

	logrus.Infof("started protocol run with %d steps", len(steps))
	c.IndentedJSON(http.StatusAccepted, exec.Status())
}

func postAbort(c *gin.Context) {
	exec.Abort()
	c.IndentedJSON(http.StatusOK, "abort requested")
}

func postHome(c *gin.Context) {
	if err := exec.Home(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, executor.ErrBusy) {
			code = http.StatusConflict
		}
		c.IndentedJSON(code, err.Error())
		_ = c.AbortWithError(code, err)
		return
	}
	c.IndentedJSON(http.StatusOK, exec.Status())
}

type jogRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
	DZ float64 `json:"dz"`
	DU float64 `json:"du"`
}

func postJog(c *gin.Context) {
	var req jogRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if st := exec.Status().State; st == executor.Executing || st == executor.Homing {
		err := errors.New("cannot jog while a run is in progress")
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}

	if err := rb.Jog(req.DX, req.DY, req.DZ, req.DU); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusOK, rb.State().Position)
}

func postSyncPosition(c *gin.Context) {
	if err := rb.SyncPosition(); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, rb.State().Position)
}

// getEvents streams status snapshots as server-sent events until the
// client disconnects.
func getEvents(c *gin.Context) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
