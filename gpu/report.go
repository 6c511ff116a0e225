package gpu

import "encoding/json"

// Report summarises the adapter a WebGPUDevice would run on.
type Report struct {
	Backend     string `json:"backend"`
	AdapterType string `json:"adapter_type"`
	VendorID    string `json:"vendor_id_hex"`
	DeviceID    string `json:"device_id_hex"`
	Name        string `json:"name"`
	Driver      string `json:"driver"`

	MaxInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBinding    uint64 `json:"max_storage_buffer_binding_size"`

	// Workgroup size every kernel is compiled with.
	Workgroup uint32 `json:"workgroup"`
}

// JSON renders the report indented.
func (r *Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
