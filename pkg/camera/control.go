package camera

import (
	"fmt"

	"github.com/vladimirvivien/go4vl/v4l2"
)

// ControlInfo is a JSON friendly view of a V4L2 control.
type ControlInfo struct {
	ID    v4l2.CtrlID    `json:"id"`
	Value v4l2.CtrlValue `json:"value"`
	Name  string         `json:"name"`

	IsMenu    bool     `json:"isMenu"`
	MenuItems []string `json:"menuItems,omitempty"`

	Minimum int32 `json:"minimum"`
	Maximum int32 `json:"maximum"`
	Step    int32 `json:"step"`
	Default int32 `json:"default"`
}

// Controls lists the device controls with their current values.
func (c *Capture) Controls() ([]ControlInfo, error) {
	if c.closed {
		return nil, ErrClosed
	}
	cd, ok := c.drv.(ControlDriver)
	if !ok {
		return nil, ErrNoControls
	}

	var ctrls []v4l2.Control
	err := retry(func() (err error) {
		ctrls, err = cd.Controls()
		return
	})
	if err != nil {
		return nil, ioctlErr("VIDIOC_QUERY_EXT_CTRL", err)
	}

	res := make([]ControlInfo, 0, len(ctrls))
	for _, ctrl := range ctrls {
		res = append(res, controlInfo(ctrl))
	}

	return res, nil
}

// SetControl sets one control. Unlike frame capture this is not fatal to the
// stream; callers usually log and carry on.
func (c *Capture) SetControl(id v4l2.CtrlID, value v4l2.CtrlValue) error {
	if c.closed {
		return ErrClosed
	}
	cd, ok := c.drv.(ControlDriver)
	if !ok {
		return ErrNoControls
	}
	if err := retry(func() error { return cd.SetControl(id, value) }); err != nil {
		return ioctlErr(fmt.Sprintf("VIDIOC_S_CTRL(%d)", id), err)
	}
	c.logger.Infof("set ctrl(%d) to %d", id, value)

	return nil
}

// ApplyControls sets every control in settings, logging the ones the device
// rejects.
func (c *Capture) ApplyControls(settings map[v4l2.CtrlID]v4l2.CtrlValue) {
	for k, v := range settings {
		if err := c.SetControl(k, v); err != nil {
			c.logger.Warnf("set ctrl(%d) to %d, err: %s", k, v, err)
		}
	}
}

func controlInfo(ctrl v4l2.Control) ControlInfo {
	info := ControlInfo{
		ID:      ctrl.ID,
		Value:   ctrl.Value,
		Name:    ctrl.Name,
		IsMenu:  ctrl.IsMenu(),
		Minimum: ctrl.Minimum,
		Maximum: ctrl.Maximum,
		Step:    ctrl.Step,
		Default: ctrl.Default,
	}
	if !info.IsMenu {
		return info
	}
	menus, err := ctrl.GetMenuItems()
	if err != nil {
		logger.Warnf("read menu of ctrl(%d): %s", ctrl.ID, err)
		return info
	}
	for _, m := range menus {
		info.MenuItems = append(info.MenuItems, m.Name)
	}

	return info
}

func CtrlToString(ctrl ControlInfo) string {
	return fmt.Sprintf("Control id (%d) name: %s\t[min: %d; max: %d; step: %d; default: %d current_val: %d]",
		ctrl.ID, ctrl.Name, ctrl.Minimum, ctrl.Maximum, ctrl.Step, ctrl.Default, ctrl.Value)
}
