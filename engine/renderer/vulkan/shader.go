package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/device"
)

func (d *Device) CreateShaderModule(code []uint32) (device.ShaderModule, error) {
	if len(code) == 0 {
		return 0, errors.New("empty SPIR-V module")
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := vkCheck("vkCreateShaderModule", vk.CreateShaderModule(d.logical(), &createInfo, d.context.Allocator, &module)); err != nil {
		return 0, err
	}
	return device.ShaderModule(d.shaders.add(module)), nil
}

func (d *Device) shaderStage(info device.ShaderStageInfo) (vk.PipelineShaderStageCreateInfo, error) {
	module, ok := d.shaders.get(device.Handle(info.Module))
	if !ok {
		return vk.PipelineShaderStageCreateInfo{}, errors.Errorf("unknown %s shader module %d", info.Stage, info.Module)
	}
	entry := info.Entry
	if entry == "" {
		entry = "main"
	}
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vkShaderStage(info.Stage),
		Module: module,
		PName:  VulkanSafeString(entry),
	}, nil
}
