package client

import (
	"encoding/json"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/swbio/pipet/pkg/config"
	"github.com/swbio/pipet/pkg/deck"
	"github.com/swbio/pipet/pkg/executor"
)

// GetStatus fetches the executor status snapshot.
func (c *Client) GetStatus() (*executor.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st executor.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

// GetPosition fetches the robot's last acknowledged position.
func (c *Client) GetPosition() (*deck.Position, error) {
	ret, err := c.Get("/position")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get position")
	}

	var pos deck.Position
	if err := json.Unmarshal([]byte(ret), &pos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal position")
	}
	return &pos, nil
}

// GetConfig fetches the daemon's active configuration.
func (c *Client) GetConfig() (*config.Config, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.Config
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}
	return &conf, nil
}

// GetVersion fetches the daemon build version.
func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}

	var v struct {
		Version   string `json:"version"`
		GitCommit string `json:"gitCommit"`
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return fmt.Sprintf("%s (%s)", v.Version, v.GitCommit), nil
}

// Run submits a protocol document and returns the accepted status.
func (c *Client) Run(protocolJSON []byte) (*executor.Status, error) {
	ret, err := c.Post("/run", string(protocolJSON))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to start run")
	}

	var st executor.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

// Abort requests a stop at the next step boundary.
func (c *Client) Abort() (string, error) {
	return c.Post("/abort", "")
}

// Home homes all axes and re-establishes the position reference.
func (c *Client) Home() (*executor.Status, error) {
	ret, err := c.Post("/home", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to home")
	}

	var st executor.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

// Jog moves the head by the given deltas and returns the new position.
func (c *Client) Jog(dx, dy, dz, du float64) (*deck.Position, error) {
	payload, err := json.Marshal(map[string]float64{
		"dx": dx, "dy": dy, "dz": dz, "du": du,
	})
	if err != nil {
		return nil, err
	}
	ret, err := c.Post("/jog", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to jog")
	}

	var pos deck.Position
	if err := json.Unmarshal([]byte(ret), &pos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal position")
	}
	return &pos, nil
}

// SyncPosition asks the daemon to re-read the position from the device.
func (c *Client) SyncPosition() (*deck.Position, error) {
	ret, err := c.Post("/sync-position", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to sync position")
	}

	var pos deck.Position
	if err := json.Unmarshal([]byte(ret), &pos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal position")
	}
	return &pos, nil
}
