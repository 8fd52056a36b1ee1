package system

import (
	"context"
	"strings"

	"github.com/picklr-io/sysconverge/internal/logging"
)

// detect probes /etc/os-release and the available package manager once.
func (p *Provider) detect(ctx context.Context) (Family, string, error) {
	p.detectOnce.Do(func() {
		data, err := p.run(ctx, "/etc/os-release", Command{Name: "cat", Args: []string{"/etc/os-release"}})
		if err != nil {
			p.detectErr = err
			return
		}
		p.family, p.detectErr = ParseOSRelease(data)
		if p.detectErr != nil {
			return
		}

		switch p.family {
		case FamilyDebian:
			p.pm = "apt-get"
		case FamilyRedHat:
			out, err := p.run(ctx, "", Command{Name: "sh", Args: []string{"-c", "command -v dnf || command -v yum"}})
			if err != nil {
				p.detectErr = err
				return
			}
			p.pm = "yum"
			if strings.HasSuffix(strings.TrimSpace(string(out)), "dnf") {
				p.pm = "dnf"
			}
		}
		logging.Debug("detected package manager", "family", p.family, "binary", p.pm)
	})
	return p.family, p.pm, p.detectErr
}

func (p *Provider) InspectPackages(ctx context.Context, names []string) (map[string]bool, error) {
	installed := make(map[string]bool, len(names))
	if len(names) == 0 {
		return installed, nil
	}

	family, _, err := p.detect(ctx)
	if err != nil {
		return nil, err
	}
	target := strings.Join(names, ",")

	var out []byte
	switch family {
	case FamilyDebian:
		args := append([]string{"-W", "-f=${Package}\t${db:Status-Abbrev}\n"}, names...)
		out, err = p.run(ctx, target, Command{Name: "dpkg-query", Args: args})
		// dpkg-query exits 1 when some package is unknown and still prints the rest
		if ExitCode(err) == 1 {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(out), "\n") {
			name, status, ok := strings.Cut(line, "\t")
			if ok && strings.HasPrefix(status, "ii") {
				installed[name] = true
			}
		}
	case FamilyRedHat:
		args := append([]string{"-q", "--qf", "%{NAME}\n"}, names...)
		out, err = p.run(ctx, target, Command{Name: "rpm", Args: args})
		// rpm -q exits with the number of missing packages
		if ExitCode(err) > 0 {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(out), "\n") {
			installed[strings.TrimSpace(line)] = true
		}
	}

	result := make(map[string]bool, len(names))
	for _, name := range names {
		result[name] = installed[name]
	}
	return result, nil
}

func (p *Provider) InstallPackages(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	family, pm, err := p.detect(ctx)
	if err != nil {
		return err
	}

	cmd := Command{Name: pm, Args: append([]string{"install", "-y", "-q"}, names...)}
	if family == FamilyDebian {
		cmd.Env = []string{"DEBIAN_FRONTEND=noninteractive"}
	}

	refreshed := false
	return RetryWithBackoff(ctx, p.retry, func() error {
		_, err := p.run(ctx, strings.Join(names, ","), cmd)
		if err != nil && family == FamilyDebian && !refreshed && strings.Contains(strings.ToLower(err.Error()), "unable to locate package") {
			refreshed = true
			if _, uerr := p.run(ctx, "", Command{Name: pm, Args: []string{"update", "-q"}, Env: cmd.Env}); uerr != nil {
				return uerr
			}
			_, err = p.run(ctx, strings.Join(names, ","), cmd)
		}
		return err
	}, IsLockContention)
}

func (p *Provider) RemovePackages(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	family, pm, err := p.detect(ctx)
	if err != nil {
		return err
	}

	cmd := Command{Name: pm, Args: append([]string{"remove", "-y", "-q"}, names...)}
	if family == FamilyDebian {
		cmd.Env = []string{"DEBIAN_FRONTEND=noninteractive"}
	}
	return RetryWithBackoff(ctx, p.retry, func() error {
		_, err := p.run(ctx, strings.Join(names, ","), cmd)
		return err
	}, IsLockContention)
}
