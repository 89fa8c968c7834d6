package pipeline

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("shader bytecode is %d bytes, not a positive multiple of 4", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode, nil
}

func loadShader(driver core1_0.CoreDeviceDriver, fileSystem fs.FS, path string) (core1_0.ShaderModule, error) {
	shaderBytes, err := fs.ReadFile(fileSystem, path)
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "read shader %s", path)
	}

	code, err := bytesToBytecode(shaderBytes)
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "shader %s", path)
	}

	shader, _, err := driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "create shader module from %s", path)
	}

	return shader, nil
}
