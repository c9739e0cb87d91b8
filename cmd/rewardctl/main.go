// Администрирование: миграции, загрузка каталога и правил
package main

import root "github.com/glkeru/rewards/cmd/rewardctl/root"

func main() {
	root.Execute()
}
