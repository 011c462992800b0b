package saga

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "GigFlow/internal/errors"
)

// Duration 包装 time.Duration 以支持 YAML 中的 "90s"、"10m" 写法。
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "非法的时长: "+raw)
	}
	*d = Duration(parsed)
	return nil
}

// PhasePolicy 是单个阶段的运维调参项，覆盖代码内的默认值。
type PhasePolicy struct {
	Timeout     Duration `yaml:"timeout"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// Policy 是从 YAML 文件加载的阶段策略表，允许在不改代码的情况下
// 调整各阶段的超时与重试上限。
type Policy struct {
	Phases map[string]PhasePolicy `yaml:"phases"`
}

// LoadPolicy 从 YAML 文件加载阶段策略。文件不存在不算错误，
// 返回空策略即可。
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Policy{}, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取阶段策略文件失败")
	}
	policy := &Policy{}
	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析阶段策略文件失败")
	}
	for name := range policy.Phases {
		if !IsValidPhase(Phase(name)) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "策略文件包含未知阶段: "+name)
		}
	}
	return policy, nil
}

// Apply 把策略覆盖到一组 Step 上并返回新的切片，原切片不被修改。
func (p *Policy) Apply(steps []Step) []Step {
	if p == nil || len(p.Phases) == 0 {
		return steps
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	for i := range out {
		override, ok := p.Phases[string(out[i].Phase)]
		if !ok {
			continue
		}
		if override.Timeout > 0 {
			out[i].Timeout = time.Duration(override.Timeout)
		}
		if override.MaxAttempts > 0 {
			out[i].MaxAttempts = override.MaxAttempts
		}
	}
	return out
}
