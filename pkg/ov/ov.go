// Package ov holds the request and response bodies of the HTTP API.
package ov

import (
	"github.com/vladimirvivien/go4vl/v4l2"
)

type UpdateControl struct {
	ID    v4l2.CtrlID    `json:"id" binding:"required"`
	Value v4l2.CtrlValue `json:"value"`
}

type Snapshot struct {
	Name string `json:"name"`
}

type Usage struct {
	CPUPercent  float64 `json:"cpuPercent"`
	MemoryUsed  string  `json:"memoryUsed"`
	MemoryTotal string  `json:"memoryTotal"`
	DiskFree    string  `json:"diskFree,omitempty"`
	DiskTotal   string  `json:"diskTotal,omitempty"`
}
