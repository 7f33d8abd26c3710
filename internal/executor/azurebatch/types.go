package azurebatch

import "azflow/internal/connector/batch"

// Node agent for the Ubuntu marketplace images the pools are created from.
const nodeAgentSKUID = "batch.node.ubuntu 18.04"

type imageReference struct {
	Publisher string `json:"publisher"`
	Offer     string `json:"offer"`
	SKU       string `json:"sku"`
}

type virtualMachineConfiguration struct {
	ImageReference imageReference `json:"imageReference"`
	NodeAgentSKUID string         `json:"nodeAgentSKUId"`
}

type poolAddParameter struct {
	ID                          string                      `json:"id"`
	VMSize                      string                      `json:"vmSize"`
	VirtualMachineConfiguration virtualMachineConfiguration `json:"virtualMachineConfiguration"`
	TargetDedicatedNodes        int                         `json:"targetDedicatedNodes"`
}

type poolInformation struct {
	PoolID string `json:"poolId"`
}

type jobAddParameter struct {
	ID       string          `json:"id"`
	PoolInfo poolInformation `json:"poolInfo"`
}

type resourceFile struct {
	AutoStorageContainerName string `json:"autoStorageContainerName,omitempty"`
	StorageContainerURL      string `json:"storageContainerUrl,omitempty"`
	HTTPURL                  string `json:"httpUrl,omitempty"`
	BlobPrefix               string `json:"blobPrefix,omitempty"`
	FilePath                 string `json:"filePath,omitempty"`
	FileMode                 string `json:"fileMode,omitempty"`
}

type taskAddParameter struct {
	ID            string         `json:"id"`
	CommandLine   string         `json:"commandLine"`
	ResourceFiles []resourceFile `json:"resourceFiles,omitempty"`
}

type cloudJob struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func newPoolAddParameter(spec batch.PoolSpec) poolAddParameter {
	return poolAddParameter{
		ID:     spec.ID,
		VMSize: spec.VMSize,
		VirtualMachineConfiguration: virtualMachineConfiguration{
			ImageReference: imageReference{
				Publisher: spec.Image.Publisher,
				Offer:     spec.Image.Offer,
				SKU:       spec.Image.SKU,
			},
			NodeAgentSKUID: nodeAgentSKUID,
		},
		TargetDedicatedNodes: spec.NodeCount,
	}
}

func newTaskAddParameter(spec batch.TaskSpec) taskAddParameter {
	p := taskAddParameter{ID: spec.ID, CommandLine: spec.CommandLine}
	if len(spec.ResourceFiles) > 0 {
		p.ResourceFiles = make([]resourceFile, len(spec.ResourceFiles))
		for i, rf := range spec.ResourceFiles {
			p.ResourceFiles[i] = resourceFile{
				AutoStorageContainerName: rf.AutoStorageContainerName,
				StorageContainerURL:      rf.StorageContainerURL,
				HTTPURL:                  rf.HTTPURL,
				BlobPrefix:               rf.BlobPrefix,
				FilePath:                 rf.FilePath,
				FileMode:                 rf.FileMode,
			}
		}
	}
	return p
}
