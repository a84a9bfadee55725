package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Generator выдаёт пару ключей. Отдельный интерфейс, чтобы тесты
// могли подставить предсказуемые ключи.
type Generator interface {
	Generate() (privateKey, publicKey string, err error)
}

// WGGenerator — боевая реализация поверх wgtypes.
type WGGenerator struct{}

func (WGGenerator) Generate() (string, string, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate private key: %w", err)
	}
	return priv.String(), priv.PublicKey().String(), nil
}

// PublicFromPrivate восстанавливает публичный ключ из приватного.
func PublicFromPrivate(privateKey string) (string, error) {
	k, err := wgtypes.ParseKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return k.PublicKey().String(), nil
}

// Check проверяет синтаксис ключа, поданного оператором.
func Check(key string) error {
	if _, err := wgtypes.ParseKey(key); err != nil {
		return fmt.Errorf("invalid key %q: %w", key, err)
	}
	return nil
}

// Persist пишет пару в <dir>/<name>.key и <dir>/<name>.pub в режиме 0600.
// Родительские каталоги создаются. Под sudo файлы переводятся во владение
// вызвавшего пользователя (SUDO_UID/SUDO_GID).
func Persist(dir, name, privateKey, publicKey string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	privPath := filepath.Join(dir, name+".key")
	pubPath := filepath.Join(dir, name+".pub")

	if err := os.WriteFile(privPath, []byte(privateKey+"\n"), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(publicKey+"\n"), 0o600); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	chownToCaller(privPath, pubPath)
	return nil
}

// Exists сообщает, известен ли этой стороне приватный ключ пира.
func Exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name+".key"))
	return err == nil
}

// Remove удаляет файлы пары; отсутствие файла не ошибка.
func Remove(dir, name string) error {
	for _, ext := range []string{".key", ".pub"} {
		if err := os.Remove(filepath.Join(dir, name+ext)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func chownToCaller(paths ...string) {
	uidStr, gidStr := os.Getenv("SUDO_UID"), os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return
	}
	uid, err1 := strconv.Atoi(uidStr)
	gid, err2 := strconv.Atoi(gidStr)
	if err1 != nil || err2 != nil {
		return
	}
	for _, p := range paths {
		_ = os.Chown(p, uid, gid)
	}
}
